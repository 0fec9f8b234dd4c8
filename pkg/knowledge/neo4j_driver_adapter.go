package knowledge

import (
	"context"

	neo4j "github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type neo4jDriverAdapter struct {
	driver   neo4j.DriverWithContext
	database string
}

// WrapNeo4jDriver adapts the official Neo4j Go driver for use with
// NewNeo4jMirror.
func WrapNeo4jDriver(driver neo4j.DriverWithContext, database string) *Neo4jMirror {
	if driver == nil {
		return nil
	}
	return &Neo4jMirror{driver: &neo4jDriverAdapter{driver: driver, database: database}}
}

func (a *neo4jDriverAdapter) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: a.database,
	})
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return nil, result.Err()
	})
	return err
}

func (a *neo4jDriverAdapter) ExecuteRead(ctx context.Context, query string, params map[string]any, collect func(record map[string]any) error) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: a.database,
	})
	defer session.Close(ctx)
	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		for result.Next(ctx) {
			if err := collect(result.Record().AsMap()); err != nil {
				return nil, err
			}
		}
		return nil, result.Err()
	})
	return err
}

func (a *neo4jDriverAdapter) Close(ctx context.Context) error {
	return a.driver.Close(ctx)
}
