package call

import (
	"testing"

	"go.viam.com/test"
)

func TestResolveRole(t *testing.T) {
	rec := &Record{ID: "call1", CallerID: "u1", CalleeID: "u2", Status: StatusRinging}

	for _, tc := range []struct {
		name     string
		localID  string
		rec      *Record
		expected Role
	}{
		{"caller", "u1", rec, RoleCaller},
		{"callee", "u2", rec, RoleCallee},
		{"third identity", "u3", rec, RoleUnaffiliated},
		{"empty identity", "", rec, RoleUnaffiliated},
		{"nil record", "u1", nil, RoleUnaffiliated},
		{"missing ids", "u1", &Record{ID: "call1"}, RoleUnaffiliated},
		{"missing ids empty identity", "", &Record{ID: "call1"}, RoleUnaffiliated},
	} {
		t.Run(tc.name, func(t *testing.T) {
			role := ResolveRole(tc.localID, tc.rec)
			test.That(t, role, test.ShouldEqual, tc.expected)
			// repeated calls on the same record agree
			test.That(t, ResolveRole(tc.localID, tc.rec), test.ShouldEqual, role)
		})
	}

	t.Run("does not mutate", func(t *testing.T) {
		before := rec.Clone()
		ResolveRole("u1", rec)
		test.That(t, rec, test.ShouldResemble, before)
	})
}

func TestRoleFields(t *testing.T) {
	test.That(t, RoleCaller.OutgoingField(), test.ShouldEqual, FieldOfferCandidates)
	test.That(t, RoleCaller.IncomingField(), test.ShouldEqual, FieldAnswerCandidates)
	test.That(t, RoleCallee.OutgoingField(), test.ShouldEqual, FieldAnswerCandidates)
	test.That(t, RoleCallee.IncomingField(), test.ShouldEqual, FieldOfferCandidates)
	test.That(t, RoleUnaffiliated.OutgoingField(), test.ShouldBeEmpty)
	test.That(t, RoleCallee.String(), test.ShouldEqual, "callee")
}
