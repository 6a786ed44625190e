// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/id"
)

// User is one linked account's persisted session record. MXID is the primary
// key; TWID is zero until the first successful connect binds it.
type User struct {
	MXID       id.UserID
	TWID       int64
	AuthToken  string
	CSRFToken  string
	PollCursor string
	NoticeRoom id.RoomID
}

// UserQuery runs session record queries against the database.
type UserQuery struct {
	db *dbutil.Database
}

const (
	getUserByMXIDQuery = `
		SELECT mxid, twid, auth_token, csrf_token, poll_cursor, notice_room
		FROM "user" WHERE mxid=$1
	`
	getUserByTWIDQuery = `
		SELECT mxid, twid, auth_token, csrf_token, poll_cursor, notice_room
		FROM "user" WHERE twid=$1
	`
	getUsersWithCredentialsQuery = `
		SELECT mxid, twid, auth_token, csrf_token, poll_cursor, notice_room
		FROM "user" WHERE auth_token<>''
	`
	insertUserQuery = `
		INSERT INTO "user" (mxid, twid, auth_token, csrf_token, poll_cursor, notice_room)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	updateUserQuery = `
		UPDATE "user"
		SET twid=$2, auth_token=$3, csrf_token=$4, poll_cursor=$5, notice_room=$6
		WHERE mxid=$1
	`
)

func (uq *UserQuery) scanRow(row dbutil.Scannable) (*User, error) {
	var user User
	var twid sql.NullInt64
	err := row.Scan(&user.MXID, &twid, &user.AuthToken, &user.CSRFToken, &user.PollCursor, &user.NoticeRoom)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.TWID = twid.Int64
	return &user, nil
}

// GetByMXID fetches the record for the given Matrix user ID. Returns
// (nil, nil) if no record exists.
func (uq *UserQuery) GetByMXID(ctx context.Context, mxid id.UserID) (*User, error) {
	return uq.scanRow(uq.db.QueryRow(ctx, getUserByMXIDQuery, mxid))
}

// GetByTWID fetches the record bound to the given Twitter user ID. Returns
// (nil, nil) if no record is bound to it.
func (uq *UserQuery) GetByTWID(ctx context.Context, twid int64) (*User, error) {
	return uq.scanRow(uq.db.QueryRow(ctx, getUserByTWIDQuery, twid))
}

// AllWithCredentials returns every record with a non-empty auth token.
func (uq *UserQuery) AllWithCredentials(ctx context.Context) ([]*User, error) {
	rows, err := uq.db.Query(ctx, getUsersWithCredentialsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []*User
	for rows.Next() {
		user, err := uq.scanRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (uq *UserQuery) Insert(ctx context.Context, user *User) error {
	_, err := uq.db.Exec(ctx, insertUserQuery,
		user.MXID, dbutil.NumPtr(user.TWID), user.AuthToken, user.CSRFToken, user.PollCursor, user.NoticeRoom)
	if err != nil {
		return fmt.Errorf("failed to insert user %s: %w", user.MXID, err)
	}
	return nil
}

func (uq *UserQuery) Update(ctx context.Context, user *User) error {
	_, err := uq.db.Exec(ctx, updateUserQuery,
		user.MXID, dbutil.NumPtr(user.TWID), user.AuthToken, user.CSRFToken, user.PollCursor, user.NoticeRoom)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", user.MXID, err)
	}
	return nil
}
