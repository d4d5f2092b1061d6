package repository

import (
	"database/sql"

	"github.com/flowmill/flowmill/internal/config"
	domain "github.com/flowmill/flowmill/pkg/flowmill/domain"
)

type DefinitionRepository struct {
	db *sql.DB
}

func NewDefinitionRepository(db *sql.DB) *DefinitionRepository {
	return &DefinitionRepository{db: db}
}

// Save inserts a new definition record or updates an existing one by name.
func (r *DefinitionRepository) Save(def *domain.DefinitionRecord) error {
	query := ""
	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	if db == config.DATABASE_TYPE_POSTGRES || db == config.DATABASE_TYPE_SQLITE {
		query = `
		INSERT INTO definitions (name, description, source, created, updated)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `)
		ON CONFLICT (name)
		DO UPDATE SET description = EXCLUDED.description,
			source = EXCLUDED.source,
			updated = EXCLUDED.updated
	`
	} else if db == config.DATABASE_TYPE_MYSQL {
		query = `
		INSERT INTO definitions (name, description, source, created, updated)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `)
		ON DUPLICATE KEY UPDATE description = VALUES(description),
			source = VALUES(source),
			updated = VALUES(updated)
	`
	} else {
		panic("Unknown database type trying to save definition")
	}

	_, err := r.db.Exec(query, def.Name, def.Description, def.Source, formatDateInDatabase(def.Created), formatDateInDatabase(def.Updated))
	return err
}

// FindByName fetches a definition record by its unique name.
func (r *DefinitionRepository) FindByName(name string) (*domain.DefinitionRecord, error) {
	query := `
		SELECT name, description, source, created, updated
		FROM definitions WHERE name = ` + placeholder(1) + `
	`
	var def domain.DefinitionRecord
	err := r.db.QueryRow(query, name).Scan(
		&def.Name,
		&def.Description,
		&def.Source,
		&def.Created,
		&def.Updated,
	)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// FindAll returns all definition records.
func (r *DefinitionRepository) FindAll() (*[]domain.DefinitionRecord, error) {
	query := `
		SELECT name, description, source, created, updated
		FROM definitions
		ORDER BY name
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := make([]domain.DefinitionRecord, 0)
	for rows.Next() {
		var d domain.DefinitionRecord
		if err := rows.Scan(&d.Name, &d.Description, &d.Source, &d.Created, &d.Updated); err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &defs, nil
}
