package core

// ActionQueue implements the Action Queue of spec.md §4.E: operators and the
// rule engine enqueue allocation/unallocation/reallocation intents here,
// approve them for execution, and track their outcome.

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// ActionQueue mediates all Action state transitions through Store
// transactions, mirroring the explicit-transaction style of ReceiptStore.
type ActionQueue struct {
	store   *Store
	coolOff time.Duration
}

// NewActionQueue builds an ActionQueue. coolOff is the A2 window: a terminal
// (Success|Failed) action for a target blocks re-queueing of that same
// (deployment, protocolNetwork, type) until it elapses.
func NewActionQueue(s *Store, coolOff time.Duration) *ActionQueue {
	return &ActionQueue{store: s, coolOff: coolOff}
}

// ActionInput is the caller-supplied payload for Queue.
type ActionInput struct {
	Type            ActionType
	DeploymentID    Hash
	AllocationID    *Hash
	Amount          *big.Int
	POI             *Hash
	Force           bool
	Source          string
	Reason          string
	Priority        int
	ProtocolNetwork ProtocolNetwork
}

// Queue inserts a new action in the Queued state, or overwrites an existing
// Queued/Approved row for the same target when the request comes from the
// same source (spec.md §4.E: "collision with the same source overwrites the
// row"). A1: a target colliding with an existing Queued/Approved row from a
// different source is rejected (DuplicateTarget). A2: a recent terminal
// action for the same (deployment, protocolNetwork, type) within the
// configured cool-off is rejected (RecentlyExecuted).
func (q *ActionQueue) Queue(ctx context.Context, in ActionInput) (*Action, error) {
	if in.Source == "" {
		return nil, SchemaError("source_required", "action source must not be empty")
	}

	if q.coolOff > 0 {
		recent, err := q.recentTerminalAt(ctx, in.DeploymentID, in.ProtocolNetwork, in.Type)
		if err != nil {
			return nil, err
		}
		if recent != nil && time.Since(*recent) < q.coolOff {
			return nil, PreconditionError("recently_executed",
				fmt.Sprintf("deployment %s had a terminal %s action within the %s cool-off", in.DeploymentID.Hex(), in.Type, q.coolOff))
		}
	}

	tx, err := q.store.BeginSerializable(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	const selectActive = `SELECT id, source FROM actions
		WHERE deployment_id = $1 AND protocol_network = $2 AND status IN ('queued','approved')
		FOR UPDATE`
	var existingID int64
	var existingSource string
	err = tx.QueryRow(ctx, selectActive, in.DeploymentID.Hex(), string(in.ProtocolNetwork)).Scan(&existingID, &existingSource)
	switch {
	case err == nil:
		if existingSource != in.Source {
			return nil, ConflictError("duplicate_target",
				fmt.Sprintf("deployment %s already has a queued or approved action from source %q", in.DeploymentID.Hex(), existingSource))
		}
		const overwrite = `UPDATE actions SET
				type = $2, allocation_id = $3, amount = $4, poi = $5, force = $6,
				reason = $7, priority = $8, status = 'queued', updated_at = now()
			WHERE id = $1`
		if _, err := tx.Exec(ctx, overwrite, existingID, string(in.Type), allocationIDHexOrNil(in.AllocationID),
			amountStringOrNil(in.Amount), poiHexOrNil(in.POI), in.Force, in.Reason, in.Priority); err != nil {
			return nil, TransientError("overwrite action", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, TransientError("commit action overwrite", err)
		}
		return q.Get(ctx, existingID)

	case isNoRows(err):
		const insert = `
			INSERT INTO actions (type, deployment_id, allocation_id, amount, poi, force, source, reason, priority, protocol_network, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,'queued')
			RETURNING id, created_at, updated_at`
		var (
			id                   int64
			createdAt, updatedAt time.Time
		)
		row := tx.QueryRow(ctx, insert,
			string(in.Type), in.DeploymentID.Hex(), allocationIDHexOrNil(in.AllocationID), amountStringOrNil(in.Amount),
			poiHexOrNil(in.POI), in.Force, in.Source, in.Reason, in.Priority, string(in.ProtocolNetwork))
		if err := row.Scan(&id, &createdAt, &updatedAt); err != nil {
			return nil, TransientError("queue action", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, TransientError("commit action queue", err)
		}
		return &Action{
			ID: id, Type: in.Type, DeploymentID: in.DeploymentID, AllocationID: in.AllocationID,
			Amount: in.Amount, POI: in.POI, Force: in.Force, Source: in.Source, Reason: in.Reason,
			Priority: in.Priority, ProtocolNetwork: in.ProtocolNetwork, Status: StatusQueued,
			CreatedAt: createdAt, UpdatedAt: updatedAt,
		}, nil

	default:
		return nil, TransientError("lock active action target", err)
	}
}

func (q *ActionQueue) recentTerminalAt(ctx context.Context, deploymentID Hash, network ProtocolNetwork, typ ActionType) (*time.Time, error) {
	const query = `SELECT updated_at FROM actions
		WHERE deployment_id = $1 AND protocol_network = $2 AND type = $3 AND status IN ('success','failed')
		ORDER BY updated_at DESC LIMIT 1`
	row := q.store.Pool.QueryRow(ctx, query, deploymentID.Hex(), string(network), string(typ))
	var at time.Time
	if err := row.Scan(&at); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, TransientError("load recent terminal action", err)
	}
	return &at, nil
}

// Approve bulk-transitions Queued actions to Approved (only Queued actions
// may be approved).
func (q *ActionQueue) Approve(ctx context.Context, ids []int64) ([]Action, error) {
	return q.transitionMany(ctx, ids, []ActionStatus{StatusQueued}, StatusApproved, "")
}

// Cancel bulk-transitions Queued or Approved actions to Canceled.
func (q *ActionQueue) Cancel(ctx context.Context, ids []int64) ([]Action, error) {
	return q.transitionMany(ctx, ids, []ActionStatus{StatusQueued, StatusApproved}, StatusCanceled, "")
}

// MarkPending transitions an Approved action to Pending once its transaction
// has been submitted.
func (q *ActionQueue) MarkPending(ctx context.Context, id int64, txHash Hash) (*Action, error) {
	return q.transitionWithTx(ctx, id, []ActionStatus{StatusApproved}, StatusPending, "", &txHash)
}

// MarkSuccess transitions a Pending action to Success.
func (q *ActionQueue) MarkSuccess(ctx context.Context, id int64) (*Action, error) {
	return q.transition(ctx, id, []ActionStatus{StatusPending}, StatusSuccess, "")
}

// MarkFailed transitions a Pending or Approved action to Failed, recording
// why (spec.md §4.E: failures must carry a human-readable reason).
func (q *ActionQueue) MarkFailed(ctx context.Context, id int64, reason string) (*Action, error) {
	return q.transition(ctx, id, []ActionStatus{StatusPending, StatusApproved}, StatusFailed, reason)
}

// Delete bulk-removes terminal (Success, Failed, or Canceled) actions.
// Non-existent ids produce NotFound enumerating the missing set (spec.md
// §4.E); ids that exist but are not terminal are left untouched (A3).
func (q *ActionQueue) Delete(ctx context.Context, ids []int64) error {
	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return SchemaError("ids_required", "delete requires at least one id")
	}

	tx, err := q.store.BeginSerializable(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := checkIDsExist(ctx, tx, ids); err != nil {
		return err
	}

	const del = `DELETE FROM actions WHERE id = ANY($1) AND status IN ('success','failed','canceled')`
	if _, err := tx.Exec(ctx, del, ids); err != nil {
		return TransientError("delete actions", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return TransientError("commit action delete", err)
	}
	return nil
}

// ActionFilter selects the rows Update mutates.
type ActionFilter struct {
	IDs             []int64
	Status          *ActionStatus
	ProtocolNetwork *ProtocolNetwork
}

// ActionPatch carries the fields Update may set. Per spec.md §4.E, patch
// fields are only applied to actions currently Queued (approved and later
// actions are not patched).
type ActionPatch struct {
	Priority *int
	Reason   *string
}

// Update mass-mutates every Queued action matching filter with patch.
// If filter.IDs names an id that does not exist at all, NotFound enumerates
// the missing set; ids that exist but are not Queued are simply excluded
// from the mutation rather than treated as an error.
func (q *ActionQueue) Update(ctx context.Context, filter ActionFilter, patch ActionPatch) ([]Action, error) {
	if patch.Priority == nil && patch.Reason == nil {
		return nil, SchemaError("patch_required", "update requires priority and/or reason")
	}

	tx, err := q.store.BeginSerializable(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := dedupeIDs(filter.IDs)
	if len(ids) > 0 {
		if err := checkIDsExist(ctx, tx, ids); err != nil {
			return nil, err
		}
	}

	where := []string{"status = 'queued'"}
	var args []any
	if len(ids) > 0 {
		args = append(args, ids)
		where = append(where, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ProtocolNetwork != nil {
		args = append(args, string(*filter.ProtocolNetwork))
		where = append(where, fmt.Sprintf("protocol_network = $%d", len(args)))
	}

	args = append(args, patch.Priority)
	priorityArg := len(args)
	args = append(args, patch.Reason)
	reasonArg := len(args)

	query := fmt.Sprintf(`UPDATE actions SET
			priority = COALESCE($%d, priority),
			reason = COALESCE($%d, reason),
			updated_at = now()
		WHERE %s
		RETURNING id, type, deployment_id, allocation_id, amount, poi, force, source, reason,
			priority, protocol_network, status, transaction, failure_reason, created_at, updated_at`,
		priorityArg, reasonArg, strings.Join(where, " AND "))

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, TransientError("update actions", err)
	}
	var out []Action
	for rows.Next() {
		a, err := scanActionRow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, TransientError("scan updated actions", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, TransientError("commit action update", err)
	}
	return out, nil
}

// ActionOrderBy is List's closed enum of sortable fields (spec.md §4.E).
type ActionOrderBy string

const (
	ActionOrderByPriority  ActionOrderBy = "priority"
	ActionOrderByCreatedAt ActionOrderBy = "createdAt"
	ActionOrderByUpdatedAt ActionOrderBy = "updatedAt"
)

// OrderDirection is List's closed enum of sort directions.
type OrderDirection string

const (
	OrderAscending  OrderDirection = "asc"
	OrderDescending OrderDirection = "desc"
)

var actionOrderColumns = map[ActionOrderBy]string{
	ActionOrderByPriority:  "priority",
	ActionOrderByCreatedAt: "created_at",
	ActionOrderByUpdatedAt: "updated_at",
}

// List returns actions matching an optional status/network filter, sorted by
// orderBy/direction. Unknown orderBy or direction values yield InvalidOrdering
// (spec.md §4.E). Empty orderBy/direction default to priority/descending.
func (q *ActionQueue) List(ctx context.Context, status *ActionStatus, network *ProtocolNetwork, orderBy ActionOrderBy, direction OrderDirection) ([]Action, error) {
	if orderBy == "" {
		orderBy = ActionOrderByPriority
	}
	column, ok := actionOrderColumns[orderBy]
	if !ok {
		return nil, SchemaError("invalid_ordering", fmt.Sprintf("orderBy must be one of priority, createdAt, updatedAt; got %q", orderBy))
	}

	if direction == "" {
		direction = OrderDescending
	}
	var dir string
	switch direction {
	case OrderAscending:
		dir = "ASC"
	case OrderDescending:
		dir = "DESC"
	default:
		return nil, SchemaError("invalid_ordering", fmt.Sprintf("orderDirection must be one of asc, desc; got %q", direction))
	}

	query := fmt.Sprintf(`SELECT id, type, deployment_id, allocation_id, amount, poi, force, source, reason,
			priority, protocol_network, status, transaction, failure_reason, created_at, updated_at
		FROM actions WHERE ($1::text IS NULL OR status = $1) AND ($2::text IS NULL OR protocol_network = $2)
		ORDER BY %s %s, id ASC`, column, dir)

	var statusArg, networkArg *string
	if status != nil {
		s := string(*status)
		statusArg = &s
	}
	if network != nil {
		n := string(*network)
		networkArg = &n
	}
	rows, err := q.store.Pool.Query(ctx, query, statusArg, networkArg)
	if err != nil {
		return nil, TransientError("list actions", err)
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get loads a single action by id.
func (q *ActionQueue) Get(ctx context.Context, id int64) (*Action, error) {
	const query = `SELECT id, type, deployment_id, allocation_id, amount, poi, force, source, reason,
			priority, protocol_network, status, transaction, failure_reason, created_at, updated_at
		FROM actions WHERE id = $1`
	row := q.store.Pool.QueryRow(ctx, query, id)
	a, err := scanActionRow(row)
	if err != nil {
		if isNoRows(err) {
			return nil, NotFoundError("action_not_found", fmt.Sprintf("no action with id %d", id))
		}
		return nil, err
	}
	return &a, nil
}

func (q *ActionQueue) transition(ctx context.Context, id int64, from []ActionStatus, to ActionStatus, failureReason string) (*Action, error) {
	return q.transitionWithTx(ctx, id, from, to, failureReason, nil)
}

func (q *ActionQueue) transitionWithTx(ctx context.Context, id int64, from []ActionStatus, to ActionStatus, failureReason string, txHash *Hash) (*Action, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	const update = `UPDATE actions SET status = $2, failure_reason = $3,
			transaction = COALESCE($4, transaction), updated_at = now()
		WHERE id = $1 AND status = ANY($5)`
	tag, err := q.store.Pool.Exec(ctx, update, id, string(to), failureReason, txHashHexOrNil(txHash), allowed)
	if err != nil {
		return nil, TransientError("transition action", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, PreconditionError("invalid_transition", fmt.Sprintf("action %d is not in an allowed source state for -> %s", id, to))
	}
	return q.Get(ctx, id)
}

// transitionMany bulk-transitions ids currently in an allowed source state
// to, silently leaving ids in a different state untouched. Any id in ids
// that does not exist at all is reported via NotFound (spec.md §4.E).
func (q *ActionQueue) transitionMany(ctx context.Context, ids []int64, from []ActionStatus, to ActionStatus, failureReason string) ([]Action, error) {
	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return nil, SchemaError("ids_required", "at least one id is required")
	}

	tx, err := q.store.BeginSerializable(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := checkIDsExist(ctx, tx, ids); err != nil {
		return nil, err
	}

	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	const update = `UPDATE actions SET status = $1, failure_reason = $2, updated_at = now()
		WHERE id = ANY($3) AND status = ANY($4)`
	if _, err := tx.Exec(ctx, update, string(to), failureReason, ids, allowed); err != nil {
		return nil, TransientError("transition actions", err)
	}

	const sel = `SELECT id, type, deployment_id, allocation_id, amount, poi, force, source, reason,
			priority, protocol_network, status, transaction, failure_reason, created_at, updated_at
		FROM actions WHERE id = ANY($1) ORDER BY id`
	rows, err := tx.Query(ctx, sel, ids)
	if err != nil {
		return nil, TransientError("reload transitioned actions", err)
	}
	var out []Action
	for rows.Next() {
		a, err := scanActionRow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, TransientError("scan transitioned actions", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, TransientError("commit action transition", err)
	}
	return out, nil
}

// checkIDsExist reports NotFoundError naming every id in ids absent from the
// actions table, observed within tx (spec.md §4.E: "non-existent ids produce
// NotFound enumerating the missing set").
func checkIDsExist(ctx context.Context, q Querier, ids []int64) error {
	rows, err := q.Query(ctx, `SELECT id FROM actions WHERE id = ANY($1) FOR UPDATE`, ids)
	if err != nil {
		return TransientError("lock actions", err)
	}
	defer rows.Close()

	existing := make(map[int64]bool, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return TransientError("scan locked action id", err)
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		return TransientError("scan locked action ids", err)
	}

	var missing []int64
	for _, id := range ids {
		if !existing[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return NotFoundError("action_not_found", fmt.Sprintf("no actions with ids %v", missing))
	}
	return nil
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAction(s scannable) (Action, error) { return scanActionRow(s) }

func scanActionRow(s scannable) (Action, error) {
	var (
		a                            Action
		typ, status, network         string
		deploymentHex                string
		allocationHex, poiHex, txHex *string
		amount                       *string
		createdAt, updatedAt         time.Time
	)
	if err := s.Scan(&a.ID, &typ, &deploymentHex, &allocationHex, &amount, &poiHex, &a.Force,
		&a.Source, &a.Reason, &a.Priority, &network, &status, &txHex, &a.FailureReason, &createdAt, &updatedAt); err != nil {
		return Action{}, err
	}
	a.Type = ActionType(typ)
	a.Status = ActionStatus(status)
	a.ProtocolNetwork = ProtocolNetwork(network)
	a.CreatedAt = createdAt
	a.UpdatedAt = updatedAt

	dep, err := ParseHash(deploymentHex)
	if err != nil {
		return Action{}, FatalError("malformed deployment_id in storage", err)
	}
	a.DeploymentID = dep

	if allocationHex != nil {
		h, err := ParseHash(*allocationHex)
		if err != nil {
			return Action{}, FatalError("malformed allocation_id in storage", err)
		}
		a.AllocationID = &h
	}
	if poiHex != nil {
		h, err := ParseHash(*poiHex)
		if err != nil {
			return Action{}, FatalError("malformed poi in storage", err)
		}
		a.POI = &h
	}
	if txHex != nil {
		h, err := ParseHash(*txHex)
		if err != nil {
			return Action{}, FatalError("malformed transaction in storage", err)
		}
		a.Transaction = &h
	}
	if amount != nil {
		v, ok := new(big.Int).SetString(*amount, 10)
		if !ok {
			return Action{}, FatalError("malformed amount in storage", nil)
		}
		a.Amount = v
	}
	return a, nil
}

func allocationIDHexOrNil(h *Hash) *string {
	if h == nil {
		return nil
	}
	s := h.Hex()
	return &s
}

func poiHexOrNil(h *Hash) *string { return allocationIDHexOrNil(h) }

func txHashHexOrNil(h *Hash) *string { return allocationIDHexOrNil(h) }

func amountStringOrNil(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}
