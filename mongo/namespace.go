// Package mongoutils contains utilities for working with MongoDB more effectively.
package mongoutils

import (
	"fmt"
	"sync"

	"go.viam.com/callsignal"
)

var (
	namespaces   = map[*string][]*string{}
	namespacesMu sync.Mutex
)

// RegisterNamespace globally registers the given database and collection as in use
// with MongoDB. It will error if there's a duplicate registration.
func RegisterNamespace(db, coll *string) error {
	namespacesMu.Lock()
	defer namespacesMu.Unlock()
	colls := namespaces[db]
	for _, existingColl := range colls {
		if coll == existingColl {
			return nil
		}
		if *coll == *existingColl {
			return fmt.Errorf("%q defined in more than one locations", *coll)
		}
	}
	namespaces[db] = append(colls, coll)
	return nil
}

// MustRegisterNamespace ensures the given database and collection can be registered
// and panics otherwise.
func MustRegisterNamespace(db, coll *string) {
	if err := RegisterNamespace(db, coll); err != nil {
		panic(err)
	}
}

func getNamespaces() map[string][]string {
	namespacesCopy := map[string][]string{}
	for db, colls := range namespaces {
		namespacesCopy[*db] = nil
		for _, coll := range colls {
			namespacesCopy[*db] = append(namespacesCopy[*db], *coll)
		}
	}
	return namespacesCopy
}

// Namespaces returns a copy of all registered namespaces.
func Namespaces() map[string][]string {
	namespacesMu.Lock()
	defer namespacesMu.Unlock()
	return getNamespaces()
}

type randomizedName struct {
	ptr  *string
	from string
}

// RandomizeNamespaces is a utility to be used by tests to remap all registered namespaces
// before tests run in order to isolate where test data is stored. The returned restore function
// should be called after tests are done in order to restore the namespaces to their former state.
func RandomizeNamespaces() (newNamespaces map[string][]string, restore func()) {
	namespacesMu.Lock()
	defer namespacesMu.Unlock()

	var renamed []randomizedName
	for db, colls := range namespaces {
		renamed = append(renamed, randomizedName{ptr: db, from: *db})
		for _, coll := range colls {
			renamed = append(renamed, randomizedName{ptr: coll, from: *coll})
			*coll = callsignal.RandomAlphaString(5)
		}
		*db = "test-" + callsignal.RandomAlphaString(5)
	}
	return getNamespaces(), func() {
		namespacesMu.Lock()
		defer namespacesMu.Unlock()
		for _, name := range renamed {
			*name.ptr = name.from
		}
	}
}
