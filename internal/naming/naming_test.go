package naming_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecampus/gitgateway/internal/naming"
)

func TestSlugify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple title",
			input:    "Homework 1",
			expected: "homework-1",
		},
		{
			name:     "mixed case with punctuation",
			input:    "Intro to Go: Pointers & Slices!",
			expected: "intro-to-go-pointers-slices",
		},
		{
			name:     "leading and trailing separators",
			input:    "  --Lab 2--  ",
			expected: "lab-2",
		},
		{
			name:     "consecutive separators collapse",
			input:    "a   b___c",
			expected: "a-b-c",
		},
		{
			name:     "unicode letters preserved",
			input:    "Übung Drei",
			expected: "übung-drei",
		},
		{
			name:     "only punctuation",
			input:    "!!!",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, naming.Slugify(tt.input))
		})
	}
}

func TestTemplateRepo(t *testing.T) {
	t.Parallel()

	name, err := naming.TemplateRepo("Homework 1: Recursion")
	require.NoError(t, err)
	assert.Equal(t, "homework-1-recursion", name)

	_, err = naming.TemplateRepo("???")
	require.Error(t, err)

	_, err = naming.TemplateRepo(strings.Repeat("a", 200))
	require.Error(t, err)
}

func TestSubmissionRepo(t *testing.T) {
	t.Parallel()

	name, err := naming.SubmissionRepo("cs101", "Homework 1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "cs101-homework-1-alice", name)

	_, err = naming.SubmissionRepo("cs101", "", "alice")
	require.Error(t, err)

	_, err = naming.SubmissionRepo(strings.Repeat("c", 60), strings.Repeat("t", 60), "alice")
	require.Error(t, err)
}

func TestOrgForCourse(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "cs-101-fall", naming.OrgForCourse("CS 101 Fall"))
}
