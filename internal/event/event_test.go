// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package event

import "testing"

func TestKindString(t *testing.T) {
	for _, tc := range []struct {
		k    Kind
		want string
	}{
		{0, "None"},
		{Created, "Created"},
		{Created | Modified, "Created|Modified"},
		{Removed | RootChanged, "Removed|RootChanged"},
		{Overflow, "Overflow"},
	} {
		if got := tc.k.String(); got != tc.want {
			t.Errorf("Kind(%b).String() = %q, want %q", uint32(tc.k), got, tc.want)
		}
	}
}

func TestKindHas(t *testing.T) {
	k := Created | Modified
	if !k.Has(Created) {
		t.Errorf("%v should have Created", k)
	}
	if !k.Has(Created | Modified) {
		t.Errorf("%v should have Created|Modified", k)
	}
	if k.Has(Removed) {
		t.Errorf("%v should not have Removed", k)
	}
}
