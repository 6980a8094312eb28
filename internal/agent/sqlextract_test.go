package agent

import "testing"

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			"tagged fence",
			"Here is the query:\n```sql\nSELECT * FROM users;\n```\nThat lists them all.",
			"SELECT * FROM users;",
		},
		{
			"tagged fence uppercase tag",
			"```SQL\nSELECT id FROM orders\n```",
			"SELECT id FROM orders",
		},
		{
			"untagged fence with keyword",
			"Try this:\n```\nSELECT COUNT(*) FROM orders WHERE status = 'open'\n```",
			"SELECT COUNT(*) FROM orders WHERE status = 'open'",
		},
		{
			"untagged fence without keyword is skipped",
			"```\njust some text\n```",
			"",
		},
		{
			"bare statement on its own line",
			"You could run:\nSELECT name FROM products LIMIT 5; to see them.",
			"SELECT name FROM products LIMIT 5;",
		},
		{
			"no sql at all",
			"The users table stores one row per registered account.",
			"",
		},
		{
			"think block stripped",
			"<think>I should query the users table</think>\n```sql\nSELECT * FROM users\n```",
			"SELECT * FROM users",
		},
		{
			"multiline statement",
			"```sql\nSELECT u.name, COUNT(o.id)\nFROM users u\nJOIN orders o ON o.user_id = u.id\nGROUP BY u.name\n```",
			"SELECT u.name, COUNT(o.id)\nFROM users u\nJOIN orders o ON o.user_id = u.id\nGROUP BY u.name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractSQL(tt.response)
			if got != tt.want {
				t.Errorf("ExtractSQL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCleanResponse(t *testing.T) {
	got := CleanResponse("<think>\nreasoning here\n</think>\nThe answer is 42.")
	if got != "The answer is 42." {
		t.Errorf("CleanResponse() = %q", got)
	}
}

func TestIsDestructive(t *testing.T) {
	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT * FROM users", false},
		{"select count(*) from orders", false},
		{"DELETE FROM users WHERE id = 1", true},
		{"delete from users", true},
		{"DROP TABLE users", true},
		{"TRUNCATE TABLE logs", true},
		{"UPDATE users SET name = 'x'", true},
		{"INSERT INTO users VALUES (1)", false},
		{"SHOW TABLES", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsDestructive(tt.sql); got != tt.want {
			t.Errorf("IsDestructive(%q) = %v, want %v", tt.sql, got, tt.want)
		}
	}
}
