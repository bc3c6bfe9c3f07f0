package config

import (
	"context"
	"testing"

	"github.com/mmdatafocus/momo_backend/appctx"
	"gorm.io/gorm/clause"
)

func TestShouldBypassTenantScope(t *testing.T) {
	ctx := context.Background()
	if ShouldBypassTenantScope(ctx) {
		t.Fatalf("plain context must not bypass")
	}
	if !ShouldBypassTenantScope(appctx.WithoutTenantScope(ctx)) {
		t.Fatalf("skip flag must bypass")
	}
	if !ShouldBypassTenantScope(appctx.Set(ctx, appctx.ContextKeyIsAdmin, true)) {
		t.Fatalf("admin must bypass")
	}
	if ShouldBypassTenantScope(appctx.WithCompany(appctx.WithoutTenantScope(ctx), "c1")) {
		t.Fatalf("WithCompany must clear the bypass flag")
	}
}

func TestCompanyIdFromContext(t *testing.T) {
	if got := CompanyIdFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty company, got %q", got)
	}
	ctx := appctx.WithCompany(context.Background(), "company-1")
	if got := CompanyIdFromContext(ctx); got != "company-1" {
		t.Fatalf("expected company-1, got %q", got)
	}
}

func TestWhereHasCompanyID(t *testing.T) {
	cases := []struct {
		name string
		expr clause.Expression
		want bool
	}{
		{"eq column", clause.Eq{Column: clause.Column{Name: "company_id"}, Value: "x"}, true},
		{"eq string", clause.Eq{Column: "company_id", Value: "x"}, true},
		{"other column", clause.Eq{Column: clause.Column{Name: "status"}, Value: "x"}, false},
		{"raw expr", clause.Expr{SQL: "company_id = ? AND id = ?"}, true},
		{"nested and", clause.AndConditions{Exprs: []clause.Expression{clause.Eq{Column: "id", Value: 1}, clause.IN{Column: "company_id"}}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := clause.Clause{Expression: clause.Where{Exprs: []clause.Expression{tc.expr}}}
			if got := whereHasCompanyID(c); got != tc.want {
				t.Fatalf("whereHasCompanyID=%v want %v", got, tc.want)
			}
		})
	}
}
