package mongoutils

import (
	"testing"

	"go.viam.com/test"
)

func TestNamespaces(t *testing.T) {
	db := "calls-db"
	coll := "calls"
	other := "calls"
	test.That(t, RegisterNamespace(&db, &coll), test.ShouldBeNil)
	// same pointer twice is fine
	test.That(t, RegisterNamespace(&db, &coll), test.ShouldBeNil)
	// a different pointer with the same name is a conflict
	test.That(t, RegisterNamespace(&db, &other), test.ShouldNotBeNil)
	test.That(t, func() { MustRegisterNamespace(&db, &other) }, test.ShouldPanic)

	test.That(t, Namespaces()["calls-db"], test.ShouldResemble, []string{"calls"})

	newNamespaces, restore := RandomizeNamespaces()
	test.That(t, db, test.ShouldStartWith, "test-")
	test.That(t, coll, test.ShouldNotEqual, "calls")
	test.That(t, newNamespaces[db], test.ShouldResemble, []string{coll})

	restore()
	test.That(t, db, test.ShouldEqual, "calls-db")
	test.That(t, coll, test.ShouldEqual, "calls")
}
