package core

import (
	"go/types"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"

	"golang.org/x/tools/go/packages"
)

var (
	loadOnce   sync.Once
	loadedPkgs []*packages.Package
	loadErr    error
)

// loadModule type-checks every package of the module once per test binary.
func loadModule(t *testing.T) []*packages.Package {
	t.Helper()
	loadOnce.Do(func() {
		cfg := &packages.Config{Mode: packages.NeedName | packages.NeedTypes | packages.NeedImports}
		loadedPkgs, loadErr = packages.Load(cfg, "tariffcore/...")
	})
	if loadErr != nil {
		t.Fatalf("load packages: %v", loadErr)
	}
	return loadedPkgs
}

func lookupInterface(t *testing.T, pkgs []*packages.Package, pkgPath, name string) *types.Interface {
	t.Helper()
	for _, p := range pkgs {
		if p.PkgPath != pkgPath || p.Types == nil {
			continue
		}
		obj := p.Types.Scope().Lookup(name)
		if obj == nil {
			t.Fatalf("%s.%s not found", pkgPath, name)
		}
		iface, ok := obj.Type().Underlying().(*types.Interface)
		if !ok {
			t.Fatalf("%s.%s is not an interface", pkgPath, name)
		}
		return iface
	}
	t.Fatalf("package %s not loaded", pkgPath)
	return nil
}

// implementors lists the package-level named types whose pointer implements iface.
func implementors(pkgs []*packages.Package, iface *types.Interface) map[string][]string {
	out := make(map[string][]string)
	for _, p := range pkgs {
		if p.Types == nil {
			continue
		}
		scope := p.Types.Scope()
		for _, name := range scope.Names() {
			tn, ok := scope.Lookup(name).(*types.TypeName)
			if !ok {
				continue
			}
			named, ok := tn.Type().(*types.Named)
			if !ok {
				continue
			}
			if _, isIface := named.Underlying().(*types.Interface); isIface {
				continue
			}
			if types.Implements(types.NewPointer(named), iface) {
				out[p.PkgPath] = append(out[p.PkgPath], name)
			}
		}
	}
	return out
}

func assertOnlyIn(t *testing.T, what string, found map[string][]string, allowed ...string) {
	t.Helper()
	ok := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		ok[a] = true
	}
	var unexpected []string
	for pkg, names := range found {
		if ok[pkg] {
			continue
		}
		for _, n := range names {
			unexpected = append(unexpected, pkg+"."+n)
		}
	}
	sort.Strings(unexpected)
	if len(unexpected) > 0 {
		_, file, line, _ := runtime.Caller(1)
		t.Fatalf("unexpected %s implementations (extend the allowed list when adding a backend):\nfile=%s:%d\n%s",
			what, filepath.Base(file), line, strings.Join(unexpected, "\n"))
	}
}

func TestPersistentStoreImplementations(t *testing.T) {
	pkgs := loadModule(t)
	iface := lookupInterface(t, pkgs, "tariffcore/pkg/domain", "PersistentStore")
	found := implementors(pkgs, iface)
	if len(found["tariffcore/internal/infra/persistence/memory"]) == 0 {
		t.Fatalf("memory store no longer implements domain.PersistentStore")
	}
	assertOnlyIn(t, "domain.PersistentStore", found,
		"tariffcore/internal/infra/persistence/memory",
		"tariffcore/internal/infra/persistence/sqlstate",
		"tariffcore/internal/infra/persistence/sqlite",
		"tariffcore/internal/infra/persistence/postgres",
	)
}

func TestArchiveImplementations(t *testing.T) {
	pkgs := loadModule(t)
	iface := lookupInterface(t, pkgs, "tariffcore/internal/blob/core", "Store")
	assertOnlyIn(t, "blob core.Store", implementors(pkgs, iface),
		"tariffcore/internal/infra/blob/fs",
		"tariffcore/internal/infra/blob/memory",
		"tariffcore/internal/infra/blob/s3",
	)
}

// Infrastructure must not reach up into the rule engine or orchestrator.
func TestInfrastructureLayering(t *testing.T) {
	forbidden := []string{"tariffcore/internal/core", "tariffcore/internal/rulerun", "tariffcore/internal/cli"}
	for _, p := range loadModule(t) {
		if !strings.HasPrefix(p.PkgPath, "tariffcore/internal/infra/") && !strings.HasPrefix(p.PkgPath, "tariffcore/internal/hierarchy") {
			continue
		}
		for imp := range p.Imports {
			for _, f := range forbidden {
				if imp == f {
					t.Errorf("%s imports %s", p.PkgPath, imp)
				}
			}
		}
	}
}

func TestServiceStructContract(t *testing.T) {
	var service *types.Struct
	for _, p := range loadModule(t) {
		if p.PkgPath != "tariffcore/internal/core" || p.Types == nil {
			continue
		}
		obj := p.Types.Scope().Lookup("Service")
		if obj == nil {
			t.Fatalf("Service type not found")
		}
		st, ok := obj.Type().Underlying().(*types.Struct)
		if !ok {
			t.Fatalf("Service is not a struct")
		}
		service = st
	}
	if service == nil {
		t.Fatalf("tariffcore/internal/core not loaded")
	}
	qualifier := func(p *types.Package) string { return p.Path() }
	fields := make(map[string]string, service.NumFields())
	for i := 0; i < service.NumFields(); i++ {
		f := service.Field(i)
		fields[f.Name()] = types.TypeString(f.Type(), qualifier)
	}
	required := map[string]string{
		"store":    "tariffcore/pkg/domain.PersistentStore",
		"registry": "*tariffcore/internal/core.Registry",
		"cache":    "*tariffcore/internal/hierarchy.Cache",
		"gate":     "tariffcore/internal/core.ApprovalGate",
		"logger":   "*log/slog.Logger",
	}
	for name, want := range required {
		got, ok := fields[name]
		switch {
		case !ok:
			t.Errorf("Service field %s missing", name)
		case got != want:
			t.Errorf("Service field %s: want %s, got %s", name, want, got)
		}
	}
}
