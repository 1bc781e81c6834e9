package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

func SHA256HexFromReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func SHA256Hex(b []byte) string {
	x := sha256.Sum256(b)
	return hex.EncodeToString(x[:])
}

// ChunkID derives a stable id from the chunk's position and content, so
// identical input yields identical ids within a generation.
func ChunkID(paperID string, generation, index int, text string) string {
	return SHA256Hex([]byte(fmt.Sprintf("%s:%d:%d:%s", paperID, generation, index, SHA256Hex([]byte(text)))))
}
