// Package extract turns a prepared image into a structured content record.
package extract

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Record is the structured content produced from one image.
type Record struct {
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	SubjectID     string   `json:"subject_id"`
	TopicID       string   `json:"topic_id,omitempty"`
	SubCategoryID string   `json:"sub_category_id,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Difficulty    *int     `json:"difficulty,omitempty"`
}

// SubCategory is one allowed classification for records of a topic.
type SubCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Context is what the extractor knows about where records will be filed.
type Context struct {
	SubjectID            string
	TopicID              string
	AllowedSubCategories []SubCategory
}

// Result is the extractor's verdict for one image. A result with Success
// false carries the reason in Message.
type Result struct {
	Success bool    `json:"success"`
	Record  *Record `json:"record,omitempty"`
	Message string  `json:"message,omitempty"`
}

// Extractor converts image bytes into a Result.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string, ec Context) (Result, error)
}

const MaxDifficulty = 5

var ErrInvalidRecord = errors.New("invalid record")

// Validate checks r against the allowed sub-categories. An empty allowed set
// accepts any sub-category.
func (r *Record) Validate(allowed []SubCategory) error {
	var problems []string
	if strings.TrimSpace(r.Title) == "" {
		problems = append(problems, "title is required")
	}
	if strings.TrimSpace(r.Content) == "" {
		problems = append(problems, "content is required")
	}
	if r.SubCategoryID != "" && len(allowed) > 0 {
		ok := slices.ContainsFunc(allowed, func(sc SubCategory) bool { return sc.ID == r.SubCategoryID })
		if !ok {
			problems = append(problems, fmt.Sprintf("sub_category_id %q is not allowed for this topic", r.SubCategoryID))
		}
	}
	if r.Difficulty != nil && (*r.Difficulty < 0 || *r.Difficulty > MaxDifficulty) {
		problems = append(problems, fmt.Sprintf("difficulty %d out of range 0..%d", *r.Difficulty, MaxDifficulty))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(problems, "; "))
	}
	return nil
}

// Normalize fills the subject and topic from ec where the record omits them
// and trims whitespace and empty tags.
func (r *Record) Normalize(ec Context) {
	r.Title = strings.TrimSpace(r.Title)
	r.Content = strings.TrimSpace(r.Content)
	if r.SubjectID == "" {
		r.SubjectID = ec.SubjectID
	}
	if r.TopicID == "" {
		r.TopicID = ec.TopicID
	}
	tags := r.Tags[:0]
	for _, t := range r.Tags {
		if t = strings.TrimSpace(t); t != "" && !slices.Contains(tags, t) {
			tags = append(tags, t)
		}
	}
	r.Tags = tags
}
