package ecs

import "github.com/rotisserie/eris"

var (
	ErrTagOutOfRange        = eris.New("component tag out of range")
	ErrDuplicateTag         = eris.New("component tag already registered")
	ErrDuplicateName        = eris.New("component name already registered")
	ErrRegistrySealed       = eris.New("registry is sealed")
	ErrUnknownComponent     = eris.New("unknown component tag")
	ErrUnknownEntityType    = eris.New("unknown entity type")
	ErrDuplicateEntityType  = eris.New("entity type already registered")
	ErrMissingReadFunction  = eris.New("component spec has no read function")
	ErrEntityAlreadyCreated = eris.New("entity already exists")
)
