package assets

import "github.com/spaghettifunk/anima-rt/engine/assets/loaders"

type Loader interface {
	Load(path string, params any) (*loaders.Resource, error) // `any` here allows loaders to return various asset types
	Unload(*loaders.Resource) error
}
