// internal/model/models_test.go
package model

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		repo     Repository
		explicit Category
		want     Category
	}{
		{"explicit starred wins", Repository{Private: true}, CategoryStarred, CategoryStarred},
		{"explicit watched wins over org", Repository{OwnerType: "Organization"}, CategoryWatched, CategoryWatched},
		{"organization ownership", Repository{OwnerType: "Organization", Private: true}, "", CategoryOrganization},
		{"fork before visibility", Repository{OwnerType: "User", Fork: true, Private: true}, "", CategoryFork},
		{"private", Repository{OwnerType: "User", Private: true}, "", CategoryPrivate},
		{"public", Repository{OwnerType: "User"}, "", CategoryPublic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.repo, tt.explicit))
		})
	}
}

func TestDestPath(t *testing.T) {
	r := Repository{Owner: "acme", Name: "widget", Category: CategoryPrivate}
	want := filepath.Join("/backups", "repos", "private", "acme", "widget")
	assert.Equal(t, want, DestPath("/backups", r))
}

func TestRepositoryKey(t *testing.T) {
	r := Repository{Owner: "acme", Name: "widget"}
	assert.Equal(t, "acme/widget", r.Key())
}
