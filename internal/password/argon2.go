// Package password hashes and verifies secrets with argon2id. The same Hasher
// type serves user passwords and refresh token secrets, each with its own
// cost parameters.
package password

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

const (
	algorithmID = "argon2id"

	minMemoryKiB   uint32 = 1024
	minTime        uint32 = 1
	minParallelism uint8  = 1

	defaultSaltLength uint32 = 16
	defaultKeyLength  uint32 = 32
)

var ErrInvalidHash = errors.New("invalid argon2id hash")

// Params are argon2id cost parameters fixed at construction. Memory is in KiB.
type Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher computes argon2id digests in PHC string form. At most MaxConcurrent
// computations run at once across all callers sharing the Hasher's limiter;
// other callers wait for a slot or for their context to end.
type Hasher struct {
	params Params
	slots  *semaphore.Weighted
}

// NewLimiter returns a limiter to share between Hashers so that password and
// refresh secret hashing draw from one CPU budget. n <= 0 means GOMAXPROCS.
func NewLimiter(n int) *semaphore.Weighted {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return semaphore.NewWeighted(int64(n))
}

// New validates params and returns a Hasher drawing from limiter. A nil
// limiter gets a private one sized to GOMAXPROCS.
func New(params Params, limiter *semaphore.Weighted) (*Hasher, error) {
	if params.SaltLength == 0 {
		params.SaltLength = defaultSaltLength
	}
	if params.KeyLength == 0 {
		params.KeyLength = defaultKeyLength
	}
	if err := validateParams(params); err != nil {
		return nil, err
	}
	if limiter == nil {
		limiter = NewLimiter(0)
	}
	return &Hasher{params: params, slots: limiter}, nil
}

func (h *Hasher) Params() Params {
	return h.params
}

// Hash returns the PHC-encoded argon2id digest of secret.
func (h *Hasher) Hash(ctx context.Context, secret string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	if err := h.slots.Acquire(ctx, 1); err != nil {
		return "", err
	}
	sum := argon2.IDKey([]byte(secret), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	h.slots.Release(1)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify reports whether secret matches digest. The digest's own parameters
// are used, so digests made under older settings still verify. A digest that
// cannot be parsed yields ErrInvalidHash.
func (h *Hasher) Verify(ctx context.Context, digest, secret string) (bool, error) {
	parsed, err := parsePHC(digest)
	if err != nil {
		return false, err
	}

	if err := h.slots.Acquire(ctx, 1); err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(secret), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.hash)))
	h.slots.Release(1)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// NeedsRehash reports whether digest was produced with weaker settings than
// the Hasher's current ones.
func (h *Hasher) NeedsRehash(digest string) (bool, error) {
	parsed, err := parsePHC(digest)
	if err != nil {
		return false, err
	}
	return parsed.memory < h.params.Memory ||
		parsed.time < h.params.Time ||
		parsed.parallelism < h.params.Parallelism ||
		uint32(len(parsed.hash)) != h.params.KeyLength, nil
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

func parsePHC(encoded string) (*parsedPHC, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, ErrInvalidHash
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") || version != argon2.Version {
		return nil, ErrInvalidHash
	}

	out := &parsedPHC{}
	params := strings.Split(parts[3], ",")
	if len(params) != 3 {
		return nil, ErrInvalidHash
	}
	for _, pair := range params {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, ErrInvalidHash
		}
		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil {
				return nil, ErrInvalidHash
			}
			out.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil {
				return nil, ErrInvalidHash
			}
			out.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil {
				return nil, ErrInvalidHash
			}
			out.parallelism = uint8(v)
		default:
			return nil, ErrInvalidHash
		}
	}
	if out.memory < minMemoryKiB || out.time < minTime || out.parallelism < minParallelism {
		return nil, ErrInvalidHash
	}

	if out.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(out.salt) == 0 {
		return nil, ErrInvalidHash
	}
	if out.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(out.hash) == 0 {
		return nil, ErrInvalidHash
	}
	return out, nil
}

func validateParams(p Params) error {
	if p.Memory < minMemoryKiB {
		return fmt.Errorf("argon2 memory must be >= %d KiB", minMemoryKiB)
	}
	if p.Time < minTime {
		return errors.New("argon2 time must be >= 1")
	}
	if p.Parallelism < minParallelism {
		return errors.New("argon2 parallelism must be >= 1")
	}
	if p.SaltLength < 8 {
		return errors.New("argon2 salt length must be >= 8")
	}
	if p.KeyLength < 16 {
		return errors.New("argon2 key length must be >= 16")
	}
	return nil
}
