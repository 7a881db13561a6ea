package models

import (
	"fmt"
	"strings"
)

// ConstructAuthorperm joins an author and permlink into the composite
// identifier used as the content key throughout the store.
func ConstructAuthorperm(author, permlink string) string {
	return author + "/" + permlink
}

// ResolveAuthorperm splits an authorperm back into author and permlink.
func ResolveAuthorperm(authorperm string) (author, permlink string, err error) {
	idx := strings.Index(authorperm, "/")
	if idx <= 0 || idx == len(authorperm)-1 {
		return "", "", fmt.Errorf("invalid authorperm: %q", authorperm)
	}
	return authorperm[:idx], authorperm[idx+1:], nil
}
