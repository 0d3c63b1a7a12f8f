package sqlstore

import "strings"

// schemaStatements creates the relational schema. Written as a slice of
// individual statements, mirroring the teacher's migration style
// (internal/storage/dolt/migrations.go), rather than one multi-statement
// string, so each statement's error can be attributed individually. The
// handful of spots where MySQL and SQLite syntax diverge (autoincrement,
// insert-or-ignore) are expressed as placeholders substituted per dialect.
func schemaStatements(dialect string) []string {
	autoincrement := "AUTOINCREMENT"
	insertIgnore := "INSERT OR IGNORE"
	if dialect == "mysql" {
		autoincrement = "AUTO_INCREMENT"
		insertIgnore = "INSERT IGNORE"
	}
	raw := rawSchemaStatements()
	out := make([]string, len(raw))
	for i, s := range raw {
		s = strings.ReplaceAll(s, "AUTOINCREMENT", autoincrement)
		s = strings.ReplaceAll(s, "INSERT OR IGNORE", insertIgnore)
		out[i] = s
	}
	return out
}

func rawSchemaStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS document_types (
			code VARCHAR(32) PRIMARY KEY,
			name VARCHAR(200) NOT NULL,
			requires_periodic_review BOOLEAN NOT NULL DEFAULT 0,
			default_review_interval_months INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS document_sources (
			code VARCHAR(32) PRIMARY KEY,
			name VARCHAR(200) NOT NULL,
			requires_verification BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(200) NOT NULL UNIQUE,
			display_name VARCHAR(200) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			is_superuser BOOLEAN NOT NULL DEFAULT 0,
			roles TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id VARCHAR(64) PRIMARY KEY,
			number VARCHAR(64) NOT NULL,
			title VARCHAR(500) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			type VARCHAR(32) NOT NULL,
			source VARCHAR(32) NOT NULL DEFAULT '',
			version_major INTEGER NOT NULL,
			version_minor INTEGER NOT NULL,
			family_key VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL,
			effective_date DATETIME,
			obsolescence_date DATETIME,
			next_periodic_review_date DATETIME,
			author VARCHAR(64) NOT NULL,
			reviewer VARCHAR(64) NOT NULL DEFAULT '',
			approver VARCHAR(64) NOT NULL DEFAULT '',
			file_reference VARCHAR(500) NOT NULL DEFAULT '',
			reason_for_change TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			approved_at DATETIME,
			obsoleted_at DATETIME,
			terminated_at DATETIME,
			UNIQUE (type, number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_family ON documents (family_key)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status)`,
		`CREATE TABLE IF NOT EXISTS document_dependencies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_document VARCHAR(64) NOT NULL,
			to_document VARCHAR(64) NOT NULL,
			type VARCHAR(32) NOT NULL,
			is_critical BOOLEAN NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			created_by VARCHAR(64) NOT NULL,
			CHECK (from_document <> to_document)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deps_from ON document_dependencies (from_document)`,
		`CREATE INDEX IF NOT EXISTS idx_deps_to ON document_dependencies (to_document)`,
		`CREATE TABLE IF NOT EXISTS workflow_instances (
			id VARCHAR(64) PRIMARY KEY,
			document VARCHAR(64) NOT NULL,
			workflow_type VARCHAR(32) NOT NULL,
			current_state VARCHAR(32) NOT NULL,
			initiated_by VARCHAR(64) NOT NULL,
			current_assignee VARCHAR(64) NOT NULL DEFAULT '',
			initiated_at DATETIME NOT NULL,
			due_at DATETIME,
			is_terminated BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_document ON workflow_instances (document)`,
		`CREATE TABLE IF NOT EXISTS workflow_transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workflow VARCHAR(64) NOT NULL,
			from_state VARCHAR(32) NOT NULL,
			to_state VARCHAR(32) NOT NULL,
			actor VARCHAR(64) NOT NULL,
			comment TEXT NOT NULL DEFAULT '',
			occurred_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS periodic_reviews (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			document VARCHAR(64) NOT NULL,
			reviewer VARCHAR(64) NOT NULL,
			outcome VARCHAR(32) NOT NULL,
			comments TEXT NOT NULL DEFAULT '',
			next_review_months INTEGER NOT NULL DEFAULT 0,
			linked_new_version VARCHAR(64) NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
			sequence INTEGER PRIMARY KEY,
			actor VARCHAR(64) NOT NULL,
			action VARCHAR(64) NOT NULL,
			target_kind VARCHAR(64) NOT NULL,
			target_id VARCHAR(64) NOT NULL,
			target_display_name VARCHAR(200) NOT NULL DEFAULT '',
			from_state VARCHAR(32) NOT NULL DEFAULT '',
			to_state VARCHAR(32) NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '',
			occurred_at DATETIME NOT NULL,
			session_id VARCHAR(64),
			previous_checksum VARCHAR(64) NOT NULL DEFAULT '',
			checksum VARCHAR(64) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_head (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			sequence INTEGER NOT NULL DEFAULT 0,
			checksum VARCHAR(64) NOT NULL DEFAULT ''
		)`,
		`INSERT OR IGNORE INTO audit_head (id, sequence, checksum) VALUES (1, 0, '')`,
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			name VARCHAR(64) PRIMARY KEY,
			scheduled_time DATETIME,
			completed BOOLEAN NOT NULL DEFAULT 0,
			result_status VARCHAR(32) NOT NULL DEFAULT '',
			last_run_at DATETIME,
			total_run_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS document_number_counters (
			type_code VARCHAR(32) NOT NULL,
			year INTEGER NOT NULL,
			counter INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (type_code, year)
		)`,
	}
}
