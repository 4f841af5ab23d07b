// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hostarch

import (
	"fmt"
	"testing"
)

func TestAddrRoundUp(t *testing.T) {
	for _, tc := range []struct {
		addr Addr
		want Addr
		ok   bool
	}{
		{0, 0, true},
		{1, PageSize, true},
		{PageSize, PageSize, true},
		{PageSize + 1, 2 * PageSize, true},
		{^Addr(0), 0, false},
	} {
		got, ok := tc.addr.RoundUp()
		if ok != tc.ok || (ok && got != tc.want) {
			t.Errorf("%v.RoundUp() got (%v, %t), want (%v, %t)", tc.addr, got, ok, tc.want, tc.ok)
		}
	}
}

func TestAddLengthOverflow(t *testing.T) {
	if _, ok := Addr(^uint64(0) - 1).AddLength(10); ok {
		t.Errorf("AddLength did not report overflow")
	}
	if end, ok := Addr(0x1000).AddLength(0x1000); !ok || end != 0x2000 {
		t.Errorf("AddLength got (%v, %t), want (0x2000, true)", end, ok)
	}
}

func TestRangeOverlaps(t *testing.T) {
	a := AddrRange{0x1000, 0x3000}
	for _, tc := range []struct {
		r    AddrRange
		want bool
	}{
		{AddrRange{0, 0x1000}, false},
		{AddrRange{0x3000, 0x4000}, false},
		{AddrRange{0x2fff, 0x4000}, true},
		{AddrRange{0, 0x1001}, true},
		{AddrRange{0x1800, 0x1900}, true},
	} {
		if got := a.Overlaps(tc.r); got != tc.want {
			t.Errorf("%v.Overlaps(%v) got %t, want %t", a, tc.r, got, tc.want)
		}
	}
}

func TestAccessTypeString(t *testing.T) {
	if got, want := ProtToAccessType(0x5).String(), "r-x"; got != want {
		t.Errorf("String() got %q, want %q", got, want)
	}
	if !AnyAccess.SupersetOf(ReadWrite) || Read.SupersetOf(Write) {
		t.Errorf("SupersetOf misclassified")
	}
}

func TestAddrFormatting(t *testing.T) {
	v := Addr(0x400078)
	if got := fmt.Sprintf("entry %v", v); got != "entry 0x400078" {
		t.Errorf("Sprintf(%%v) got %q, want %q", got, "entry 0x400078")
	}
	r := AddrRange{Start: 0x1000, End: 0x2000}
	if got := fmt.Sprintf("%v", r); got != "[0x1000, 0x2000)" {
		t.Errorf("Sprintf(%%v) of range got %q", got)
	}
}
