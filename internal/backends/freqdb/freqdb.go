// Package freqdb is the local word frequency database. It resolves query
// words to lemma variants and lists word forms of a lemma.
package freqdb

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/logging"
	"github.com/czcorpus/wag-sub001/internal/query"
)

const schema = `
CREATE TABLE IF NOT EXISTS word (
	value TEXT NOT NULL,
	lemma TEXT NOT NULL,
	pos   TEXT NOT NULL,
	count INTEGER NOT NULL,
	arf   REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS word_value_idx ON word(value COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS word_lemma_idx ON word(lemma, pos);
`

// posLabels are the labels of the common PoS tag values.
var posLabels = map[string]string{
	"N": "noun",
	"A": "adjective",
	"P": "pronoun",
	"C": "numeral",
	"V": "verb",
	"D": "adverb",
	"R": "preposition",
	"J": "conjunction",
	"T": "particle",
	"I": "interjection",
	"X": "unknown",
}

// DB is a frequency database backed by SQLite.
type DB struct {
	conn       *sql.DB
	corpusSize int64
	logger     *logging.Logger
}

// Open opens or creates the database at dbPath. corpusSize is the size of
// the corpus the counts come from, used to compute ipm.
func Open(dbPath string, corpusSize int64, logger *logging.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	if corpusSize <= 0 {
		return nil, fmt.Errorf("corpus size must be positive")
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set pragma: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &DB{
		conn:       conn,
		corpusSize: corpusSize,
		logger:     logger.With(map[string]interface{}{"component": "freqdb"}),
	}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) ipm(count int64) float64 {
	return float64(count) / float64(db.corpusSize) * 1e6
}

func parsePos(pos string) []query.PosItem {
	fields := strings.Fields(pos)
	ans := make([]query.PosItem, len(fields))
	for i, v := range fields {
		label, ok := posLabels[v]
		if !ok {
			label = v
		}
		ans[i] = query.PosItem{Value: v, Label: label}
	}
	return ans
}

// FindQueryMatches implements backends.LemmaResolver. Variants are ordered
// by lemma frequency and the most frequent one is current. An unknown word
// yields no variants.
func (db *DB) FindQueryMatches(ctx context.Context, word string, minFreq int) ([]query.QueryMatch, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT l.lemma, l.pos, SUM(l.count), SUM(l.arf)
		FROM word AS l
		WHERE (l.lemma, l.pos) IN (
			SELECT w.lemma, w.pos FROM word AS w WHERE w.value = ? COLLATE NOCASE
		)
		GROUP BY l.lemma, l.pos
		HAVING SUM(l.count) >= ?
		ORDER BY SUM(l.count) DESC, l.lemma`,
		word, minFreq,
	)
	if err != nil {
		return nil, fmt.Errorf("lemma lookup failed: %w", err)
	}
	defer rows.Close()

	var ans []query.QueryMatch
	for rows.Next() {
		var lemma, pos string
		var count int64
		var arf float64
		if err := rows.Scan(&lemma, &pos, &count, &arf); err != nil {
			return nil, fmt.Errorf("lemma lookup failed: %w", err)
		}
		ipm := db.ipm(count)
		ans = append(ans, query.QueryMatch{
			Lemma:     lemma,
			Word:      word,
			PoS:       parsePos(pos),
			Abs:       count,
			IPM:       ipm,
			ARF:       arf,
			FLevel:    query.FreqBand(ipm),
			IsCurrent: len(ans) == 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lemma lookup failed: %w", err)
	}
	db.logger.Debug("Resolved query word", map[string]interface{}{
		"word":     word,
		"variants": len(ans),
	})
	return ans, nil
}

// AddWord inserts one word form record.
func (db *DB) AddWord(ctx context.Context, form, lemma, pos string, count int64, arf float64) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO word (value, lemma, pos, count, arf) VALUES (?, ?, ?, ?, ?)`,
		form, lemma, pos, count, arf,
	)
	if err != nil {
		return fmt.Errorf("failed to insert word: %w", err)
	}
	return nil
}

// ImportTSV loads rows of form, lemma, pos, count and optionally arf
// separated by tabs. It returns the number of imported rows.
func (db *DB) ImportTSV(ctx context.Context, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO word (value, lemma, pos, count, arf) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	n := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, fmt.Errorf("line %d: %w", n+1, err)
		}
		if len(rec) < 4 {
			return n, fmt.Errorf("line %d: expected at least 4 columns, got %d", n+1, len(rec))
		}
		count, err := strconv.ParseInt(rec[3], 10, 64)
		if err != nil {
			return n, fmt.Errorf("line %d: invalid count: %w", n+1, err)
		}
		var arf float64
		if len(rec) > 4 {
			if arf, err = strconv.ParseFloat(rec[4], 64); err != nil {
				return n, fmt.Errorf("line %d: invalid arf: %w", n+1, err)
			}
		}
		if _, err := stmt.ExecContext(ctx, rec[0], rec[1], rec[2], count, arf); err != nil {
			return n, fmt.Errorf("line %d: %w", n+1, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit import: %w", err)
	}
	return n, nil
}

// Register adds the word forms capability backed by db to r.
func Register(r *backends.Registry, db *DB) {
	r.Register(backends.VendorFreqDB, backends.CapWordForms, func(env backends.Env, conf backends.APIConf) (interface{}, error) {
		if db == nil {
			return nil, fmt.Errorf("frequency database not configured")
		}
		return &FormsAPI{db: db}, nil
	})
}

// FormsAPI lists word forms of a lemma from the database.
type FormsAPI struct {
	db *DB
}

// StateToArgs implements backends.WordFormsAPI.
func (a *FormsAPI) StateToArgs(q backends.FormsQuery, m query.QueryMatch) (backends.Args, error) {
	if m.IsNonDict || m.Lemma == "" {
		return backends.Args{}, errors.Newf(errors.ArgsMapping, "word %q has no known lemma", m.Word)
	}
	args := backends.NewArgs("forms").
		Set("lemma", m.Lemma).
		Set("pos", strings.Join(m.PosValues(), " "))
	if q.Limit > 0 {
		args = args.Set("limit", strconv.Itoa(q.Limit))
	}
	return args, nil
}

// Call implements backends.DataAPI.
func (a *FormsAPI) Call(ctx context.Context, args backends.Args) (*backends.WordFormsResponse, error) {
	limit := -1
	if v := args.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New(errors.ArgsMapping, "invalid limit", err)
		}
		limit = n
	}
	rows, err := a.db.conn.QueryContext(ctx, `
		SELECT value, SUM(count) AS freq
		FROM word
		WHERE lemma = ? AND pos = ?
		GROUP BY value
		ORDER BY freq DESC, value
		LIMIT ?`,
		args.Get("lemma"), args.Get("pos"), limit,
	)
	if err != nil {
		return nil, errors.New(errors.AdapterError, "word forms lookup failed", err)
	}
	defer rows.Close()

	ans := &backends.WordFormsResponse{Forms: []backends.WordForm{}}
	total := 0
	for rows.Next() {
		var form backends.WordForm
		if err := rows.Scan(&form.Value, &form.Freq); err != nil {
			return nil, errors.New(errors.AdapterError, "word forms lookup failed", err)
		}
		form.InteractionID = backends.InteractionID(form.Value)
		total += form.Freq
		ans.Forms = append(ans.Forms, form)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.AdapterError, "word forms lookup failed", err)
	}
	for i := range ans.Forms {
		if total > 0 {
			ans.Forms[i].Ratio = float64(ans.Forms[i].Freq) / float64(total)
		}
	}
	return ans, nil
}
