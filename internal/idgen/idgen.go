// Package idgen mints document ids for reviews and visits.
//
// An id encodes the creation time in milliseconds, a random per-process
// nonce and a per-process sequence number. The sequence keeps ids distinct
// when several are minted in the same millisecond; the nonce keeps two
// processes started in the same millisecond apart.
package idgen

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/speps/go-hashids/v2"
)

const (
	Prefix    = "id"
	minLength = 12
	nonceMax  = 1 << 20
)

type Generator struct {
	hd    *hashids.HashID
	nonce int64
	seq   atomic.Int64
	now   func() time.Time
}

// New builds a generator. salt changes the alphabet shuffle so ids are not
// trivially decodable by clients; now may be nil.
func New(salt string, now func() time.Time) (*Generator, error) {
	hd := hashids.NewData()
	hd.Salt = salt
	hd.MinLength = minLength

	h, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, fmt.Errorf("idgen: %w", err)
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("idgen nonce: %w", err)
	}

	if now == nil {
		now = time.Now
	}

	return &Generator{
		hd:    h,
		nonce: int64(binary.BigEndian.Uint64(buf[:]) % nonceMax),
		now:   now,
	}, nil
}

// Next returns a fresh id. It is safe for concurrent use.
func (g *Generator) Next() (string, error) {
	seq := g.seq.Add(1)
	encoded, err := g.hd.EncodeInt64([]int64{g.now().UnixMilli(), g.nonce, seq})
	if err != nil {
		return "", fmt.Errorf("idgen encode: %w", err)
	}
	return Prefix + encoded, nil
}

// Decode recovers the millisecond timestamp an id was minted at.
func (g *Generator) Decode(id string) (time.Time, error) {
	if len(id) <= len(Prefix) || id[:len(Prefix)] != Prefix {
		return time.Time{}, fmt.Errorf("idgen: %q is not a generated id", id)
	}
	parts, err := g.hd.DecodeInt64WithError(id[len(Prefix):])
	if err != nil || len(parts) != 3 {
		return time.Time{}, fmt.Errorf("idgen: cannot decode %q", id)
	}
	return time.UnixMilli(parts[0]), nil
}
