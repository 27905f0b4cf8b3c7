// Package filter turns search query parameters into post criteria and
// applies them to GORM queries.
package filter

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// Query parameter names understood by Parse.
const (
	ParamTitle         = "title"
	ParamCategory      = "category"
	ParamAuthor        = "author"
	ParamCreatedAfter  = "created_after"
	ParamCreatedBefore = "created_before"
	ParamOrdering      = "ordering"
)

// DefaultOrdering lists newest posts first.
const DefaultOrdering = "-created_at"

const dateLayout = "2006-01-02"

var orderings = map[string]string{
	"-created_at": "posts.created_at DESC, posts.id DESC",
	"created_at":  "posts.created_at ASC, posts.id ASC",
	"-title":      "posts.title DESC, posts.id DESC",
	"title":       "posts.title ASC, posts.id ASC",
}

// Criteria is a parsed, validated set of post filters. Zero values mean
// "no constraint".
type Criteria struct {
	Title         string     `json:"title,omitempty"`
	CategoryID    uint       `json:"category,omitempty"`
	AuthorID      uint       `json:"author,omitempty"`
	CreatedAfter  *time.Time `json:"created_after,omitempty"`
	CreatedBefore *time.Time `json:"created_before,omitempty"`
	Ordering      string     `json:"ordering"`
}

// Errors maps a query parameter to the reason its value was ignored.
type Errors map[string]string

// Orderings returns the supported ordering values, sorted.
func Orderings() []string {
	keys := lo.Keys(orderings)
	sort.Strings(keys)
	return keys
}

// Parse builds Criteria from raw query parameters. Unknown or empty
// parameters are ignored; malformed values are ignored and reported.
func Parse(params map[string]string) (Criteria, Errors) {
	params = lo.PickBy(params, func(_ string, v string) bool {
		return strings.TrimSpace(v) != ""
	})

	c := Criteria{Ordering: DefaultOrdering}
	errs := Errors{}

	if v, ok := params[ParamTitle]; ok {
		c.Title = strings.TrimSpace(v)
	}
	if v, ok := params[ParamCategory]; ok {
		if id, err := parseID(v); err != nil {
			errs[ParamCategory] = "Enter a valid category id."
		} else {
			c.CategoryID = id
		}
	}
	if v, ok := params[ParamAuthor]; ok {
		if id, err := parseID(v); err != nil {
			errs[ParamAuthor] = "Enter a valid author id."
		} else {
			c.AuthorID = id
		}
	}
	if v, ok := params[ParamCreatedAfter]; ok {
		if t, _, err := parseTime(v); err != nil {
			errs[ParamCreatedAfter] = "Enter a valid date (YYYY-MM-DD) or RFC 3339 timestamp."
		} else {
			c.CreatedAfter = &t
		}
	}
	if v, ok := params[ParamCreatedBefore]; ok {
		if t, dateOnly, err := parseTime(v); err != nil {
			errs[ParamCreatedBefore] = "Enter a valid date (YYYY-MM-DD) or RFC 3339 timestamp."
		} else {
			// A bare date includes the whole day.
			if dateOnly {
				t = t.AddDate(0, 0, 1)
			}
			c.CreatedBefore = &t
		}
	}
	if v, ok := params[ParamOrdering]; ok {
		v = strings.TrimSpace(v)
		if _, known := orderings[v]; known {
			c.Ordering = v
		} else {
			errs[ParamOrdering] = "Select a valid ordering: " + strings.Join(Orderings(), ", ") + "."
		}
	}

	return c, errs
}

func parseID(v string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
	if err != nil || id == 0 {
		return 0, strconv.ErrSyntax
	}
	return uint(id), nil
}

func parseTime(v string) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(dateLayout, v); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	return t, false, err
}

// IsEmpty reports whether the criteria constrain nothing.
func (c Criteria) IsEmpty() bool {
	return c.Title == "" && c.CategoryID == 0 && c.AuthorID == 0 &&
		c.CreatedAfter == nil && c.CreatedBefore == nil
}

// Where applies the filtering conditions to db, without ordering, so the
// result can be counted.
func (c Criteria) Where(db *gorm.DB) *gorm.DB {
	if c.Title != "" {
		db = db.Where("LOWER(posts.title) LIKE ? ESCAPE '\\'", "%"+escapeLike(strings.ToLower(c.Title))+"%")
	}
	if c.CategoryID != 0 {
		db = db.Where("posts.category_id = ?", c.CategoryID)
	}
	if c.AuthorID != 0 {
		db = db.Where("posts.author_id = ?", c.AuthorID)
	}
	if c.CreatedAfter != nil {
		db = db.Where("posts.created_at >= ?", c.CreatedAfter.UTC())
	}
	if c.CreatedBefore != nil {
		db = db.Where("posts.created_at < ?", c.CreatedBefore.UTC())
	}
	return db
}

// Order applies the ordering clause to db.
func (c Criteria) Order(db *gorm.DB) *gorm.DB {
	clause, ok := orderings[c.Ordering]
	if !ok {
		clause = orderings[DefaultOrdering]
	}
	return db.Order(clause)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
