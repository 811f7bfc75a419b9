package persist

import (
	"errors"
	"testing"
)

func TestNewStatement(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr error
	}{
		{"select", "SELECT * FROM account", nil},
		{"insert with placeholders", "INSERT INTO account (name) VALUES (?)", nil},
		{"empty", "", ErrInvalidArgument},
		{"whitespace only", "  \n\t ", ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := NewStatement(tt.text)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewStatement(%q) error = %v, want %v", tt.text, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewStatement(%q) error = %v", tt.text, err)
			}
			if stmt.String() != tt.text {
				t.Errorf("String() = %q, want %q", stmt.String(), tt.text)
			}
			if len(stmt.Parameters()) != 0 {
				t.Errorf("Parameters() = %v, want empty", stmt.Parameters())
			}
		})
	}
}

func TestMustStatementPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustStatement(\"\") did not panic")
		}
	}()
	MustStatement("")
}

func TestStatementSetParameter(t *testing.T) {
	t.Run("binds and chains", func(t *testing.T) {
		stmt := MustStatement("UPDATE account SET balance = ? WHERE name = ?")
		s, err := stmt.SetParameter(1, 500)
		if err != nil {
			t.Fatalf("SetParameter(1) error = %v", err)
		}
		if s != stmt {
			t.Error("SetParameter() did not return the receiver")
		}
		if _, err := stmt.SetParameter(2, "CASH"); err != nil {
			t.Fatalf("SetParameter(2) error = %v", err)
		}

		params := stmt.Parameters()
		if params[1] != 500 || params[2] != "CASH" {
			t.Errorf("Parameters() = %v", params)
		}
	})

	t.Run("rebinding replaces value", func(t *testing.T) {
		stmt := MustStatement("SELECT * FROM account WHERE id = ?")
		stmt.SetParameter(1, 1) //nolint:errcheck // Valid index
		stmt.SetParameter(1, 2) //nolint:errcheck // Valid index
		if got := stmt.Parameters()[1]; got != 2 {
			t.Errorf("Parameters()[1] = %v, want 2", got)
		}
	})

	t.Run("index below one", func(t *testing.T) {
		stmt := MustStatement("SELECT ?")
		for _, index := range []int{0, -1} {
			if _, err := stmt.SetParameter(index, "x"); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("SetParameter(%d) error = %v, want ErrInvalidArgument", index, err)
			}
		}
		if len(stmt.Parameters()) != 0 {
			t.Errorf("Parameters() = %v after rejected binds", stmt.Parameters())
		}
	})

	t.Run("nil value", func(t *testing.T) {
		stmt := MustStatement("SELECT ?")
		if _, err := stmt.SetParameter(1, nil); !errors.Is(err, ErrNullValue) {
			t.Errorf("SetParameter(1, nil) error = %v, want ErrNullValue", err)
		}
	})
}

func TestStatementParametersSnapshot(t *testing.T) {
	stmt := MustStatement("SELECT ?")
	stmt.SetParameter(1, "a") //nolint:errcheck // Valid index

	snapshot := stmt.Parameters()
	snapshot[1] = "mutated"
	snapshot[2] = "added"

	params := stmt.Parameters()
	if params[1] != "a" || len(params) != 1 {
		t.Errorf("Parameters() = %v, want map[1:a]", params)
	}
}

func TestStatementClearParameters(t *testing.T) {
	stmt := MustStatement("SELECT ?, ?")
	stmt.SetParameter(1, "a") //nolint:errcheck // Valid index
	stmt.SetParameter(2, "b") //nolint:errcheck // Valid index

	if stmt.ClearParameters() != stmt {
		t.Error("ClearParameters() did not return the receiver")
	}
	if len(stmt.Parameters()) != 0 {
		t.Errorf("Parameters() = %v, want empty", stmt.Parameters())
	}
	if stmt.String() != "SELECT ?, ?" {
		t.Errorf("String() changed to %q", stmt.String())
	}
}

func TestStatementArgs(t *testing.T) {
	t.Run("no parameters", func(t *testing.T) {
		args, err := MustStatement("SELECT 1").Args()
		if err != nil || args != nil {
			t.Errorf("Args() = %v, %v, want nil, nil", args, err)
		}
	})

	t.Run("positional order", func(t *testing.T) {
		stmt := MustStatement("INSERT INTO t VALUES (?, ?, ?)")
		stmt.SetParameter(3, "c") //nolint:errcheck // Valid index
		stmt.SetParameter(1, "a") //nolint:errcheck // Valid index
		stmt.SetParameter(2, "b") //nolint:errcheck // Valid index

		args, err := stmt.Args()
		if err != nil {
			t.Fatalf("Args() error = %v", err)
		}
		want := []any{"a", "b", "c"}
		if len(args) != len(want) {
			t.Fatalf("Args() = %v, want %v", args, want)
		}
		for i := range want {
			if args[i] != want[i] {
				t.Errorf("Args()[%d] = %v, want %v", i, args[i], want[i])
			}
		}
	})

	t.Run("gap is rejected", func(t *testing.T) {
		stmt := MustStatement("INSERT INTO t VALUES (?, ?, ?)")
		stmt.SetParameter(1, "a") //nolint:errcheck // Valid index
		stmt.SetParameter(3, "c") //nolint:errcheck // Valid index

		if _, err := stmt.Args(); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Args() error = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestStatementIsRead(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"SELECT * FROM account", true},
		{"select id from account", true},
		{"  \n\tSeLeCt 1", true},
		{"INSERT INTO account (name) VALUES ('x')", false},
		{"UPDATE account SET balance = 0", false},
		{"DELETE FROM account", false},
		{"WITH x AS (SELECT 1) SELECT * FROM x", false},
		{"SEL", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := MustStatement(tt.text).IsRead(); got != tt.want {
				t.Errorf("IsRead() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatementGeneratesKey(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"INSERT INTO account (name) VALUES (?)", true},
		{" insert into account (name) values (?)", true},
		{"REPLACE INTO account (id, name) VALUES (?, ?)", true},
		{"UPDATE account SET name = ?", false},
		{"DELETE FROM account", false},
		{"CREATE TABLE x (id INTEGER)", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := MustStatement(tt.text).generatesKey(); got != tt.want {
				t.Errorf("generatesKey() = %v, want %v", got, tt.want)
			}
		})
	}
}
