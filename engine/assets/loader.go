package assets

import "github.com/spaghettifunk/anima-srbc/engine/assets/loaders"

// Loader turns one file into a loaded resource. Data holds the decoded value.
type Loader interface {
	Load(path string) (*loaders.Resource, error)
}
