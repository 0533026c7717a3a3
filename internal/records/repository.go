package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/tendant/simple-ingestor/internal/extract"
)

var ErrUnknownSubCategory = errors.New("unknown sub-category")

const maxSlugRunes = 80

// Stored is a persisted record.
type Stored struct {
	ID      string
	Slug    string
	OwnerID string
	extract.Record
	CreatedAt time.Time
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Persist stores rec for ownerID and returns the new record id.
func (r *Repository) Persist(ctx context.Context, rec extract.Record, ownerID string) (string, error) {
	tags, err := json.Marshal(nonNil(rec.Tags))
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if rec.SubCategoryID != "" {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM sub_categories WHERE id = ?`, rec.SubCategoryID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrUnknownSubCategory, rec.SubCategoryID)
		}
		if err != nil {
			return "", fmt.Errorf("check sub-category: %w", err)
		}
	}

	slug, err := uniqueSlug(ctx, tx, Slugify(rec.Title))
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	const query = `INSERT INTO records (id, slug, title, content, subject_id, topic_id,
		sub_category_id, tags, difficulty, owner_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		id, slug, rec.Title, rec.Content, rec.SubjectID,
		nullString(rec.TopicID), nullString(rec.SubCategoryID),
		string(tags), nullInt(rec.Difficulty), ownerID,
	)
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

func uniqueSlug(ctx context.Context, tx *sql.Tx, base string) (string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT slug FROM records WHERE slug = ? OR slug LIKE ?`, base, base+"-%")
	if err != nil {
		return "", fmt.Errorf("list slugs: %w", err)
	}
	defer rows.Close()

	taken := make(map[string]bool)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return "", fmt.Errorf("scan slug: %w", err)
		}
		taken[s] = true
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("list slugs: %w", err)
	}

	if !taken[base] {
		return base, nil
	}
	for n := 2; ; n++ {
		candidate := base + "-" + strconv.Itoa(n)
		if !taken[candidate] {
			return candidate, nil
		}
	}
}

// Slugify lowercases s and joins its letters and digits with hyphens.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	if b.Len() == 0 {
		return "record"
	}
	out := []rune(b.String())
	if len(out) > maxSlugRunes {
		return strings.TrimRight(string(out[:maxSlugRunes]), "-")
	}
	return string(out)
}

// Get returns nil, nil when id is unknown.
func (r *Repository) Get(ctx context.Context, id string) (*Stored, error) {
	const query = `SELECT id, slug, owner_id, title, content, subject_id, topic_id,
		sub_category_id, tags, difficulty, created_at
		FROM records WHERE id = ?`

	var (
		s                  Stored
		topic, subCategory sql.NullString
		tags, createdStr   string
		difficulty         sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.Slug, &s.OwnerID, &s.Title, &s.Content, &s.SubjectID,
		&topic, &subCategory, &tags, &difficulty, &createdStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}

	s.TopicID = topic.String
	s.SubCategoryID = subCategory.String
	if difficulty.Valid {
		d := int(difficulty.Int64)
		s.Difficulty = &d
	}
	if err := json.Unmarshal([]byte(tags), &s.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	return &s, nil
}

// LoadContext lists the sub-categories of topicID by name. An empty topic
// has no sub-categories.
func (r *Repository) LoadContext(ctx context.Context, topicID string) ([]extract.SubCategory, error) {
	if topicID == "" {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM sub_categories WHERE topic_id = ? ORDER BY name`, topicID)
	if err != nil {
		return nil, fmt.Errorf("list sub-categories: %w", err)
	}
	defer rows.Close()

	var out []extract.SubCategory
	for rows.Next() {
		var sc extract.SubCategory
		if err := rows.Scan(&sc.ID, &sc.Name); err != nil {
			return nil, fmt.Errorf("scan sub-category: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

const upsertSubCategory = `INSERT INTO sub_categories (id, topic_id, name) VALUES (?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET topic_id = excluded.topic_id, name = excluded.name`

// UpsertSubCategory creates or renames a sub-category of topicID.
func (r *Repository) UpsertSubCategory(ctx context.Context, topicID string, sc extract.SubCategory) error {
	if _, err := r.db.ExecContext(ctx, upsertSubCategory, sc.ID, topicID, sc.Name); err != nil {
		return fmt.Errorf("upsert sub-category: %w", err)
	}
	return nil
}

// SubCategorySeed is one entry of a sub-category import file.
type SubCategorySeed struct {
	TopicID string `json:"topic_id"`
	ID      string `json:"id"`
	Name    string `json:"name"`
}

// ImportSubCategories upserts a JSON array of SubCategorySeed in one
// transaction and returns how many entries it applied. Nothing is written
// when any entry is incomplete.
func (r *Repository) ImportSubCategories(ctx context.Context, rd io.Reader) (int, error) {
	var seeds []SubCategorySeed
	if err := json.NewDecoder(rd).Decode(&seeds); err != nil {
		return 0, fmt.Errorf("decode sub-categories: %w", err)
	}
	for i, s := range seeds {
		if strings.TrimSpace(s.TopicID) == "" || strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.Name) == "" {
			return 0, fmt.Errorf("sub-category %d: topic_id, id and name are required", i)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, s := range seeds {
		if _, err := tx.ExecContext(ctx, upsertSubCategory, s.ID, s.TopicID, s.Name); err != nil {
			return 0, fmt.Errorf("upsert sub-category %s: %w", s.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(seeds), nil
}

// ImportSubCategoriesFile imports the sub-categories listed in path.
func (r *Repository) ImportSubCategoriesFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open sub-categories: %w", err)
	}
	defer f.Close()
	return r.ImportSubCategories(ctx, f)
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
