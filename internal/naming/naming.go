// Package naming implements the repository naming convention for managed
// template and submission repositories.
package naming

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	// maxRepoNameLength is the maximum length the git host accepts for a
	// repository name
	maxRepoNameLength = 100
)

// Slugify converts an arbitrary title into a lowercase, hyphen-separated
// slug safe for use in repository and organization names.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphens
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// OrgForCourse returns the git-host organization name owning a course's
// template repositories.
func OrgForCourse(courseSlug string) string {
	return Slugify(courseSlug)
}

// TemplateRepo returns the repository name for an assignment's template
// repository under the course organization.
func TemplateRepo(title string) (string, error) {
	name := Slugify(title)
	if name == "" {
		return "", fmt.Errorf("assignment title %q produces an empty repository name", title)
	}
	if len(name) > maxRepoNameLength {
		return "", fmt.Errorf("repository name exceeds maximum length of %d characters: %s", maxRepoNameLength, name)
	}
	return name, nil
}

// SubmissionRepo returns the repository name for a student's submission
// repository under their personal namespace. The format is
// {courseSlug}-{slugified-title}-{username}.
func SubmissionRepo(courseSlug, title, username string) (string, error) {
	tmpl, err := TemplateRepo(title)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s-%s", Slugify(courseSlug), tmpl, Slugify(username))
	if len(name) > maxRepoNameLength {
		return "", fmt.Errorf("repository name exceeds maximum length of %d characters: %s", maxRepoNameLength, name)
	}
	return name, nil
}
