package sqlsafety

import "testing"

func TestCheckAllowsSelect(t *testing.T) {
	res := Check("SELECT id, name FROM customers ORDER BY revenue DESC LIMIT 5")
	if !res.Safe {
		t.Fatalf("expected safe, got rejected: %s", res.RejectedReason)
	}
}

func TestCheckAllowsWithTerminatingInSelect(t *testing.T) {
	res := Check(`WITH totals AS (SELECT customer_id, SUM(amount) AS total FROM orders GROUP BY customer_id) SELECT * FROM totals ORDER BY total DESC`)
	if !res.Safe {
		t.Fatalf("expected safe, got rejected: %s", res.RejectedReason)
	}
}

func TestCheckRejectsDelete(t *testing.T) {
	res := Check("DELETE FROM orders WHERE id = 1")
	if res.Safe {
		t.Fatalf("expected rejection for DELETE")
	}
}

func TestCheckRejectsWithTrailingDelete(t *testing.T) {
	res := Check(`WITH x AS (SELECT id FROM orders) DELETE FROM orders WHERE id IN (SELECT id FROM x)`)
	if res.Safe {
		t.Fatalf("expected rejection for WITH ... DELETE")
	}
}

func TestCheckRejectsAllDeniedKeywords(t *testing.T) {
	denied := []string{
		"INSERT INTO t VALUES (1)",
		"UPDATE t SET x = 1",
		"DROP TABLE t",
		"ALTER TABLE t ADD COLUMN x int",
		"TRUNCATE t",
		"GRANT ALL ON t TO u",
		"REVOKE ALL ON t FROM u",
		"CREATE TABLE t (id int)",
	}
	for _, stmt := range denied {
		if res := Check(stmt); res.Safe {
			t.Errorf("expected rejection for %q", stmt)
		}
	}
}

func TestCheckRejectsEmpty(t *testing.T) {
	if Check("").Safe {
		t.Fatalf("expected rejection for empty input")
	}
}

func TestCheckRejectsNonSelectPrefix(t *testing.T) {
	if Check("EXPLAIN SELECT * FROM t").Safe {
		t.Fatalf("expected rejection for non SELECT/WITH prefix")
	}
}
