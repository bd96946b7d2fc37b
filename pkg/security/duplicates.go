package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/anima-vault/anima/pkg/model"
)

// randReader supplies comparison keys.
var randReader io.Reader = rand.Reader

// ReuseGroup lists the records sharing one secret value.
type ReuseGroup struct {
	RecordIDs []string `json:"record_ids"`
	Sites     []string `json:"sites"`
	Count     int      `json:"count"`
}

// FindReused groups records whose secrets are exactly equal. Values are
// compared through HMAC-SHA256 under a per-call random key, so plaintext
// secrets are never used as map keys and the hashes cannot be reused across
// calls. Groups are sorted by size, largest first.
func FindReused(records []model.Record) ([]ReuseGroup, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(randReader, key); err != nil {
		return nil, fmt.Errorf("security: failed to generate comparison key: %w", err)
	}

	byHash := make(map[string][]int)
	var order []string
	for i, r := range records {
		if r.Secret == "" {
			continue
		}
		h := computeValueHash(r.Secret, key)
		if _, seen := byHash[h]; !seen {
			order = append(order, h)
		}
		byHash[h] = append(byHash[h], i)
	}

	var groups []ReuseGroup
	for _, h := range order {
		idx := byHash[h]
		if len(idx) <= 1 {
			continue
		}
		g := ReuseGroup{Count: len(idx)}
		for _, i := range idx {
			g.RecordIDs = append(g.RecordIDs, records[i].ID)
			g.Sites = append(g.Sites, records[i].Site)
		}
		groups = append(groups, g)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Count > groups[j].Count
	})
	return groups, nil
}

// computeValueHash computes HMAC-SHA256 of a value with the comparison key.
func computeValueHash(value string, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}
