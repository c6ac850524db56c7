package accounts

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type accountsFile struct {
	Accounts []*Account `yaml:"accounts" validate:"required,min=1,dive,required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// LoadFile reads and validates an accounts file.
func LoadFile(path string) ([]*Account, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("[accounts.LoadFile] %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates an accounts document. Ids are normalised and
// must be unique.
func Parse(raw []byte) ([]*Account, error) {
	var f accountsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("[accounts.Parse] decode: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("[accounts.Parse] validate: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Accounts))
	for _, a := range f.Accounts {
		a.ID = Normalize(a.ID)
		if _, dup := seen[a.ID]; dup {
			return nil, fmt.Errorf("[accounts.Parse] duplicate account id %q", a.ID)
		}
		seen[a.ID] = struct{}{}
		if a.Pool.MaxConns > 0 && a.Pool.MinConns > a.Pool.MaxConns {
			return nil, fmt.Errorf("[accounts.Parse] %s: min_conns exceeds max_conns", a.ID)
		}
	}
	return f.Accounts, nil
}
