package telemetry

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"
)

const (
	epochKeySize   = 32
	bucketKeyBytes = 8
	epochKeyInfo   = "replyguard/session-bucket/v1"
)

// Pseudonymizer maps session ids to rotating bucket keys. Within one epoch the
// same session id always maps to the same bucket; across epochs the mapping
// changes and cannot be linked without the process secret.
type Pseudonymizer struct {
	secret []byte
	epoch  time.Duration
	now    func() time.Time

	mu       sync.Mutex
	keyEpoch int64
	key      []byte
}

// NewPseudonymizer creates a pseudonymizer. An empty secret is replaced by a
// random one, so buckets are stable only for the life of the process.
func NewPseudonymizer(secret []byte, epoch time.Duration) (*Pseudonymizer, error) {
	if epoch <= 0 {
		return nil, fmt.Errorf("NewPseudonymizer: epoch must be positive, got %v", epoch)
	}
	if len(secret) == 0 {
		secret = make([]byte, epochKeySize)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("NewPseudonymizer: %w", err)
		}
	}
	return &Pseudonymizer{
		secret:   append([]byte(nil), secret...),
		epoch:    epoch,
		now:      time.Now,
		keyEpoch: -1,
	}, nil
}

// Bucket returns the session's pseudonymous bucket key for the current epoch
// as 16 hex characters.
func (p *Pseudonymizer) Bucket(sessionID string) string {
	return p.BucketAt(sessionID, p.now())
}

// BucketAt returns the bucket key for the epoch containing t.
func (p *Pseudonymizer) BucketAt(sessionID string, t time.Time) string {
	key := p.epochKey(t.UnixNano() / int64(p.epoch))

	hasher, err := blake3.NewKeyed(key)
	if err != nil {
		// Only fails on a key that is not 32 bytes.
		panic("telemetry: blake3 keyed hash: " + err.Error())
	}
	hasher.Write([]byte(sessionID))
	return hex.EncodeToString(hasher.Sum(nil)[:bucketKeyBytes])
}

func (p *Pseudonymizer) epochKey(epoch int64) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if epoch == p.keyEpoch && p.key != nil {
		return p.key
	}

	info := make([]byte, len(epochKeyInfo)+8)
	copy(info, epochKeyInfo)
	binary.BigEndian.PutUint64(info[len(epochKeyInfo):], uint64(epoch))

	reader := hkdf.New(sha256.New, p.secret, nil, info)
	key := make([]byte, epochKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		panic("telemetry: hkdf epoch key derivation: " + err.Error())
	}
	p.keyEpoch = epoch
	p.key = key
	return key
}
