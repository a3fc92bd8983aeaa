package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runferry/portal/model"
)

// PgStore is a PostgreSQL-backed Store. The schema lives in
// migrations/0001_init.sql.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL fleet store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// GetBoat returns a boat by ID.
func (s *PgStore) GetBoat(ctx context.Context, id string) (Boat, error) {
	var b Boat
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, firmware, chip_type, password_hash
		FROM boats
		WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.Name, &b.Firmware, &b.ChipType, &b.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return Boat{}, model.NewNotFoundError(fmt.Sprintf("boat %q not found", id))
	}
	if err != nil {
		return Boat{}, fmt.Errorf("query boat: %w", err)
	}
	return b, nil
}

// PutBoat inserts or replaces a boat.
func (s *PgStore) PutBoat(ctx context.Context, b Boat) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO boats (id, name, firmware, chip_type, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			firmware = EXCLUDED.firmware,
			chip_type = EXCLUDED.chip_type,
			password_hash = EXCLUDED.password_hash`,
		b.ID, b.Name, b.Firmware, b.ChipType, b.PasswordHash,
	)
	if err != nil {
		return fmt.Errorf("upsert boat: %w", err)
	}
	return nil
}

// Link records ownership of a boat.
func (s *PgStore) Link(ctx context.Context, l Link) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO boat_links (user_id, boat_id, email, linked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, boat_id) DO NOTHING`,
		l.UserID, l.BoatID, l.Email, l.LinkedAt,
	)
	if err != nil {
		return fmt.Errorf("insert boat link: %w", err)
	}
	return nil
}

// Unlink removes ownership of a boat.
func (s *PgStore) Unlink(ctx context.Context, userID, boatID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM boat_links
		WHERE user_id = $1 AND boat_id = $2`,
		userID, boatID,
	)
	if err != nil {
		return fmt.Errorf("delete boat link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("boat %q is not linked", boatID))
	}
	return nil
}

// LinksByUser returns a user's boats, oldest link first.
func (s *PgStore) LinksByUser(ctx context.Context, userID string) ([]Link, error) {
	return s.queryLinks(ctx, `
		SELECT user_id, boat_id, email, linked_at
		FROM boat_links
		WHERE user_id = $1
		ORDER BY linked_at, boat_id`, userID)
}

// LinksByBoat returns a boat's owners, oldest link first.
func (s *PgStore) LinksByBoat(ctx context.Context, boatID string) ([]Link, error) {
	return s.queryLinks(ctx, `
		SELECT user_id, boat_id, email, linked_at
		FROM boat_links
		WHERE boat_id = $1
		ORDER BY linked_at, boat_id`, boatID)
}

func (s *PgStore) queryLinks(ctx context.Context, query string, arg string) ([]Link, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query boat links: %w", err)
	}
	defer rows.Close()

	links := []Link{}
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.UserID, &l.BoatID, &l.Email, &l.LinkedAt); err != nil {
			return nil, fmt.Errorf("scan boat link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

const reservoirColumns = `id, boat_id, number, name, base_lat, base_lng, points_count`

func scanReservoir(row pgx.Row) (Reservoir, error) {
	var r Reservoir
	err := row.Scan(&r.ID, &r.BoatID, &r.Number, &r.Name, &r.BasePoint.Lat, &r.BasePoint.Lng, &r.PointsCount)
	return r, err
}

// ListReservoirs returns a boat's reservoirs sorted by number.
func (s *PgStore) ListReservoirs(ctx context.Context, boatID string) ([]Reservoir, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+reservoirColumns+`
		FROM reservoirs
		WHERE boat_id = $1
		ORDER BY number`,
		boatID,
	)
	if err != nil {
		return nil, fmt.Errorf("query reservoirs: %w", err)
	}
	defer rows.Close()

	out := []Reservoir{}
	for rows.Next() {
		r, err := scanReservoir(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservoir: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetReservoir returns a reservoir by ID.
func (s *PgStore) GetReservoir(ctx context.Context, id string) (Reservoir, error) {
	r, err := scanReservoir(s.pool.QueryRow(ctx, `
		SELECT `+reservoirColumns+`
		FROM reservoirs
		WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservoir{}, model.NewNotFoundError(fmt.Sprintf("reservoir %q not found", id))
	}
	if err != nil {
		return Reservoir{}, fmt.Errorf("query reservoir: %w", err)
	}
	return r, nil
}

// UpdateReservoir replaces the mutable fields of a reservoir.
func (s *PgStore) UpdateReservoir(ctx context.Context, r Reservoir) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE reservoirs
		SET name = $2, base_lat = $3, base_lng = $4
		WHERE id = $1`,
		r.ID, r.Name, r.BasePoint.Lat, r.BasePoint.Lng,
	)
	if err != nil {
		return fmt.Errorf("update reservoir: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("reservoir %q not found", r.ID))
	}
	return nil
}

// CreateReservoir stores a reservoir and its points in one transaction.
func (s *PgStore) CreateReservoir(ctx context.Context, r Reservoir, points []Point) (Reservoir, error) {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Serialize numbering per boat.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, r.BoatID); err != nil {
			return fmt.Errorf("lock boat reservoirs: %w", err)
		}
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(number), 0) + 1
			FROM reservoirs
			WHERE boat_id = $1`, r.BoatID,
		).Scan(&r.Number); err != nil {
			return fmt.Errorf("next reservoir number: %w", err)
		}
		r.PointsCount = len(points)
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservoirs (`+reservoirColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, r.BoatID, r.Number, r.Name, r.BasePoint.Lat, r.BasePoint.Lng, r.PointsCount,
		); err != nil {
			return fmt.Errorf("insert reservoir: %w", err)
		}
		for i, p := range points {
			p.ReservoirID = r.ID
			p.Number = i + 1
			if err := insertPoint(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Reservoir{}, err
	}
	return r, nil
}

const pointColumns = `id, reservoir_id, number, name, lat, lng, depth, created_at`

func scanPoint(row pgx.Row) (Point, error) {
	var p Point
	err := row.Scan(&p.ID, &p.ReservoirID, &p.Number, &p.Name,
		&p.Coordinates.Lat, &p.Coordinates.Lng, &p.Depth, &p.CreatedAt)
	return p, err
}

func insertPoint(ctx context.Context, tx pgx.Tx, p Point) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO points (`+pointColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.ReservoirID, p.Number, p.Name, p.Coordinates.Lat, p.Coordinates.Lng, p.Depth, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert point: %w", err)
	}
	return nil
}

// ListPoints returns a reservoir's points sorted by number.
func (s *PgStore) ListPoints(ctx context.Context, reservoirID string) ([]Point, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pointColumns+`
		FROM points
		WHERE reservoir_id = $1
		ORDER BY number`,
		reservoirID,
	)
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	out := []Point{}
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPoint returns a point by ID.
func (s *PgStore) GetPoint(ctx context.Context, id string) (Point, error) {
	p, err := scanPoint(s.pool.QueryRow(ctx, `
		SELECT `+pointColumns+`
		FROM points
		WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Point{}, model.NewNotFoundError(fmt.Sprintf("point %q not found", id))
	}
	if err != nil {
		return Point{}, fmt.Errorf("query point: %w", err)
	}
	return p, nil
}

// CreatePoint stores p as the reservoir's next point.
func (s *PgStore) CreatePoint(ctx context.Context, p Point) (Point, error) {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var count int
		err := tx.QueryRow(ctx, `
			SELECT points_count FROM reservoirs
			WHERE id = $1
			FOR UPDATE`, p.ReservoirID,
		).Scan(&count)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NewNotFoundError(fmt.Sprintf("reservoir %q not found", p.ReservoirID))
		}
		if err != nil {
			return fmt.Errorf("lock reservoir: %w", err)
		}
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(MAX(number), 0) + 1
			FROM points
			WHERE reservoir_id = $1`, p.ReservoirID,
		).Scan(&p.Number); err != nil {
			return fmt.Errorf("next point number: %w", err)
		}
		if err := insertPoint(ctx, tx, p); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE reservoirs SET points_count = points_count + 1
			WHERE id = $1`, p.ReservoirID,
		); err != nil {
			return fmt.Errorf("increment points count: %w", err)
		}
		return nil
	})
	if err != nil {
		return Point{}, err
	}
	return p, nil
}

// UpdatePoint replaces the mutable fields of a point.
func (s *PgStore) UpdatePoint(ctx context.Context, p Point) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE points
		SET name = $2, lat = $3, lng = $4, depth = $5
		WHERE id = $1`,
		p.ID, p.Name, p.Coordinates.Lat, p.Coordinates.Lng, p.Depth,
	)
	if err != nil {
		return fmt.Errorf("update point: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("point %q not found", p.ID))
	}
	return nil
}

// DeletePoint removes a point and decrements its reservoir's count.
func (s *PgStore) DeletePoint(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var reservoirID string
		err := tx.QueryRow(ctx, `
			DELETE FROM points
			WHERE id = $1
			RETURNING reservoir_id`, id,
		).Scan(&reservoirID)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NewNotFoundError(fmt.Sprintf("point %q not found", id))
		}
		if err != nil {
			return fmt.Errorf("delete point: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE reservoirs SET points_count = GREATEST(points_count - 1, 0)
			WHERE id = $1`, reservoirID,
		); err != nil {
			return fmt.Errorf("decrement points count: %w", err)
		}
		return nil
	})
}

// ListDeliveries returns deliveries to pointIDs, newest first.
func (s *PgStore) ListDeliveries(ctx context.Context, pointIDs []string) ([]Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, point_id, ts, duration, distance, status
		FROM deliveries
		WHERE point_id = ANY($1)
		ORDER BY ts DESC, id`,
		pointIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	out := []Delivery{}
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.PointID, &d.Timestamp, &d.Duration, &d.Distance, &d.Status); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AddDelivery records a delivery.
func (s *PgStore) AddDelivery(ctx context.Context, d Delivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO deliveries (id, point_id, ts, duration, distance, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.PointID, d.Timestamp, d.Duration, d.Distance, string(d.Status),
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// PutShare stores a share.
func (s *PgStore) PutShare(ctx context.Context, sh Share) error {
	snapshot, err := json.Marshal(sh.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal share snapshot: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO shares (share_key, reservoir_id, snapshot, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (share_key) DO NOTHING`,
		sh.Key, sh.ReservoirID, snapshot, sh.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert share: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError("share key already in use")
	}
	return nil
}

// GetShare returns a share by key, expired or not.
func (s *PgStore) GetShare(ctx context.Context, key string) (Share, error) {
	var sh Share
	var snapshot []byte
	err := s.pool.QueryRow(ctx, `
		SELECT share_key, reservoir_id, snapshot, expires_at
		FROM shares
		WHERE share_key = $1`,
		key,
	).Scan(&sh.Key, &sh.ReservoirID, &snapshot, &sh.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Share{}, model.NewNotFoundError("Share link not found or expired")
	}
	if err != nil {
		return Share{}, fmt.Errorf("query share: %w", err)
	}
	if err := json.Unmarshal(snapshot, &sh.Snapshot); err != nil {
		return Share{}, fmt.Errorf("unmarshal share snapshot: %w", err)
	}
	return sh, nil
}

// PurgeShares deletes shares that expired before cutoff.
func (s *PgStore) PurgeShares(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM shares WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge shares: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListDistributors returns all distributors sorted by name.
func (s *PgStore) ListDistributors(ctx context.Context) ([]Distributor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, region
		FROM distributors
		ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("query distributors: %w", err)
	}
	defer rows.Close()

	out := []Distributor{}
	for rows.Next() {
		var d Distributor
		if err := rows.Scan(&d.ID, &d.Name, &d.Region); err != nil {
			return nil, fmt.Errorf("scan distributor: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PutDistributor inserts or replaces a distributor.
func (s *PgStore) PutDistributor(ctx context.Context, d Distributor) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO distributors (id, name, region)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, region = EXCLUDED.region`,
		d.ID, d.Name, d.Region,
	)
	if err != nil {
		return fmt.Errorf("upsert distributor: %w", err)
	}
	return nil
}

// GetAccess returns a boat's distributor grant.
func (s *PgStore) GetAccess(ctx context.Context, boatID string) (Access, error) {
	a := Access{BoatID: boatID}
	err := s.pool.QueryRow(ctx, `
		SELECT distributor_id, view_settings, edit_settings, view_reservoirs
		FROM boat_access
		WHERE boat_id = $1`,
		boatID,
	).Scan(&a.DistributorID, &a.Permissions.ViewSettings, &a.Permissions.EditSettings, &a.Permissions.ViewReservoirs)
	if errors.Is(err, pgx.ErrNoRows) {
		return Access{BoatID: boatID}, nil
	}
	if err != nil {
		return Access{}, fmt.Errorf("query boat access: %w", err)
	}
	return a, nil
}

// PutAccess replaces a boat's grant. An empty DistributorID revokes it.
func (s *PgStore) PutAccess(ctx context.Context, a Access) error {
	if a.DistributorID == "" {
		if _, err := s.pool.Exec(ctx, `DELETE FROM boat_access WHERE boat_id = $1`, a.BoatID); err != nil {
			return fmt.Errorf("delete boat access: %w", err)
		}
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO boat_access (boat_id, distributor_id, view_settings, edit_settings, view_reservoirs)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (boat_id) DO UPDATE SET
			distributor_id = EXCLUDED.distributor_id,
			view_settings = EXCLUDED.view_settings,
			edit_settings = EXCLUDED.edit_settings,
			view_reservoirs = EXCLUDED.view_reservoirs`,
		a.BoatID, a.DistributorID, a.Permissions.ViewSettings, a.Permissions.EditSettings, a.Permissions.ViewReservoirs,
	)
	if err != nil {
		return fmt.Errorf("upsert boat access: %w", err)
	}
	return nil
}

// AccessByDistributor returns the grants held by a distributor.
func (s *PgStore) AccessByDistributor(ctx context.Context, distributorID string) ([]Access, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT boat_id, distributor_id, view_settings, edit_settings, view_reservoirs
		FROM boat_access
		WHERE distributor_id = $1
		ORDER BY boat_id`,
		distributorID,
	)
	if err != nil {
		return nil, fmt.Errorf("query distributor access: %w", err)
	}
	defer rows.Close()

	out := []Access{}
	for rows.Next() {
		var a Access
		if err := rows.Scan(&a.BoatID, &a.DistributorID,
			&a.Permissions.ViewSettings, &a.Permissions.EditSettings, &a.Permissions.ViewReservoirs); err != nil {
			return nil, fmt.Errorf("scan boat access: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
