package session

import (
	"testing"
	"time"
)

func TestBuildConstraintFlattening(t *testing.T) {
	tests := []struct {
		name    string
		clauses []string
		want    string
	}{
		{"none", nil, "()"},
		{"single", []string{"(grid.node.subnet=public)"}, "(grid.node.subnet=public)"},
		{"joined", []string{"(grid.node.subnet=public)", "(grid.runtime.name=wasm)"},
			"(&(grid.node.subnet=public)(grid.runtime.name=wasm))"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := NewDemandBuilder()
			for _, clause := range tc.clauses {
				b.Constraint(clause)
			}
			_, constraints := b.Build()
			if constraints != tc.want {
				t.Fatalf("constraints = %s, want %s", constraints, tc.want)
			}
		})
	}
}

func TestDefaultsSetExpirationAndSubnet(t *testing.T) {
	before := time.Now()
	props, constraints := NewDemandBuilder().Defaults("public").Build()

	if props[PropSubnet] != "public" {
		t.Fatalf("subnet = %v", props[PropSubnet])
	}
	if constraints != "("+PropSubnet+"=public)" {
		t.Fatalf("constraints = %s", constraints)
	}

	exp, ok := props[PropExpiration].(int64)
	if !ok {
		t.Fatalf("expiration = %v (%T)", props[PropExpiration], props[PropExpiration])
	}
	min := before.Add(defaultDemandTTL).UnixMilli()
	max := time.Now().Add(defaultDemandTTL).UnixMilli()
	if exp < min || exp > max {
		t.Fatalf("expiration = %d outside [%d, %d]", exp, min, max)
	}
}

func TestRuntimeAddsPropertyAndClause(t *testing.T) {
	props, constraints := NewDemandBuilder().Runtime("wasm").Build()
	if props[PropRuntime] != "wasm" {
		t.Fatalf("runtime = %v", props[PropRuntime])
	}
	if constraints != "(grid.runtime.name=wasm)" {
		t.Fatalf("constraints = %s", constraints)
	}
}

func TestBuildCopiesProperties(t *testing.T) {
	b := NewDemandBuilder().Property("a", 1)
	props, _ := b.Build()
	props["b"] = 2
	again, _ := b.Build()
	if _, ok := again["b"]; ok {
		t.Fatal("Build must return a copy of the property map")
	}
}
