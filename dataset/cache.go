package dataset

import (
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	_ "modernc.org/sqlite"
)

// TokenCache memoizes tokenized lines in a local SQLite database so repeated
// epochs (and repeated runs over the same corpus) skip re-tokenization.
type TokenCache struct {
	db *sql.DB
}

// OpenTokenCache opens (or creates) a cache database at path.
func OpenTokenCache(path string) (*TokenCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS tokens(
			line_hash TEXT PRIMARY KEY,
			ids BLOB NOT NULL
		)`)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &TokenCache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *TokenCache) Close() error {
	return c.db.Close()
}

// Get returns the cached token ids for a line, or (nil, false) on a miss.
func (c *TokenCache) Get(line string) ([]int, bool) {
	var blob []byte
	err := c.db.QueryRow("SELECT ids FROM tokens WHERE line_hash = ?", hashLine(line)).Scan(&blob)
	if err != nil {
		return nil, false
	}
	return decodeIDs(blob), true
}

// Put stores the token ids for a line. Errors are returned so callers can
// choose to keep going: a broken cache degrades to re-tokenizing.
func (c *TokenCache) Put(line string, ids []int) error {
	_, err := c.db.Exec("INSERT OR REPLACE INTO tokens(line_hash, ids) VALUES(?, ?)",
		hashLine(line), encodeIDs(ids))
	if err != nil {
		return fmt.Errorf("token cache write failed: %w", err)
	}
	return nil
}

func hashLine(line string) string {
	sum := sha256.Sum256([]byte(line))
	return hex.EncodeToString(sum[:])
}

func encodeIDs(ids []int) []byte {
	blob := make([]byte, 4*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint32(blob[i*4:], uint32(id))
	}
	return blob
}

func decodeIDs(blob []byte) []int {
	ids := make([]int, len(blob)/4)
	for i := range ids {
		ids[i] = int(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return ids
}
