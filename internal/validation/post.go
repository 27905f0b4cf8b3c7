package validation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Post form field names.
const (
	FieldTitle    = "title"
	FieldContent  = "content"
	FieldCategory = "category"

	fieldCategoryAlias = "category_id"
)

// MaxTitleLength is the longest accepted post title, in characters.
const MaxTitleLength = 128

// CategoryExists reports whether a category id resolves.
type CategoryExists func(ctx context.Context, id uint) (bool, error)

// PostForm is the submitted create/update payload for a post.
type PostForm struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	CategoryID uint   `json:"category"`

	rawCategory string
}

// PostFormFromValues builds a PostForm from submitted values.
func PostFormFromValues(values map[string]string) PostForm {
	f := PostForm{
		Title:       strings.TrimSpace(values[FieldTitle]),
		Content:     strings.TrimSpace(values[FieldContent]),
		rawCategory: strings.TrimSpace(values[FieldCategory]),
	}
	if f.rawCategory == "" {
		f.rawCategory = strings.TrimSpace(values[fieldCategoryAlias])
	}
	if id, err := strconv.ParseUint(f.rawCategory, 10, 32); err == nil {
		f.CategoryID = uint(id)
	}
	return f
}

// Validate returns per-field messages; an empty map means the form is valid.
// The error is non-nil only when the category lookup failed.
func (f PostForm) Validate(ctx context.Context, exists CategoryExists) (map[string]string, error) {
	fields := map[string]string{}

	switch {
	case f.Title == "":
		fields[FieldTitle] = "This field is required."
	case utf8.RuneCountInString(f.Title) > MaxTitleLength:
		fields[FieldTitle] = fmt.Sprintf("Ensure this value has at most %d characters (it has %d).",
			MaxTitleLength, utf8.RuneCountInString(f.Title))
	}

	if f.Content == "" {
		fields[FieldContent] = "This field is required."
	}

	switch {
	case f.rawCategory == "" && f.CategoryID == 0:
		fields[FieldCategory] = "This field is required."
	case f.CategoryID == 0:
		fields[FieldCategory] = "Select a valid choice."
	default:
		ok, err := exists(ctx, f.CategoryID)
		if err != nil {
			return nil, err
		}
		if !ok {
			fields[FieldCategory] = "Select a valid choice. That choice is not one of the available choices."
		}
	}

	return fields, nil
}
