package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/deemkeen/fedistore/domain"
	"github.com/google/uuid"
)

// OAuth2 persistence. The oauth HTTP layer reaches token, code and client
// rows exclusively through these methods; grant-flow logic lives outside.

// GetAccessToken returns the stored token, or nil if unknown.
func (db *DB) GetAccessToken(accessToken string) (*domain.AccessToken, error) {
	row := db.db.QueryRow(`SELECT data FROM access_tokens WHERE token = ? LIMIT 1`, accessToken)
	return scanGrantRow[domain.AccessToken](row)
}

// GetAuthorizationCode returns the stored code, or nil if unknown.
func (db *DB) GetAuthorizationCode(authorizationCode string) (*domain.AuthorizationCode, error) {
	row := db.db.QueryRow(`SELECT data FROM authorization_codes WHERE code = ? LIMIT 1`, authorizationCode)
	return scanGrantRow[domain.AuthorizationCode](row)
}

// SaveAuthorizationCode stores the code with the client and user snapshotted
// at issuance time, and returns the stored row.
func (db *DB) SaveAuthorizationCode(code *domain.AuthorizationCode, client *domain.Client, user *domain.User) (*domain.AuthorizationCode, error) {
	stored := *code
	stored.Client = client
	stored.User = user

	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, err
	}
	err = db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO authorization_codes(key, code, data, created_at) VALUES (?, ?, ?, ?)`,
			uuid.NewString(), stored.AuthorizationCode, string(data), time.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// RevokeAuthorizationCode deletes the code and reports whether a row was
// actually removed. Lookup and delete share one transaction.
func (db *DB) RevokeAuthorizationCode(code *domain.AuthorizationCode) (bool, error) {
	revoked := false
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		revoked = false
		var key string
		err := tx.QueryRow(`SELECT key FROM authorization_codes WHERE code = ? LIMIT 1`,
			code.AuthorizationCode).Scan(&key)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM authorization_codes WHERE key = ?`, key); err != nil {
			return err
		}
		revoked = true
		return nil
	})
	return revoked, err
}

// GetClient looks a client up by its public id. The secret check is skipped
// when clientSecret is nil, which is how public clients authenticate.
func (db *DB) GetClient(clientId string, clientSecret *string) (*domain.Client, error) {
	row := db.db.QueryRow(`SELECT data FROM clients WHERE client_id = ? LIMIT 1`, clientId)
	client, err := scanGrantRow[domain.Client](row)
	if err != nil || client == nil {
		return nil, err
	}
	if clientSecret != nil && client.ClientSecret != *clientSecret {
		return nil, nil
	}
	return client, nil
}

// SaveClient stores a registered client.
func (db *DB) SaveClient(client *domain.Client) error {
	data, err := json.Marshal(client)
	if err != nil {
		return err
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO clients(key, client_id, data, created_at) VALUES (?, ?, ?, ?)`,
			uuid.NewString(), client.ClientId, string(data), time.Now())
		return err
	})
}

// SaveUser stores a user row.
func (db *DB) SaveUser(user *domain.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO users(key, user_id, username, data, created_at) VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), user.Id, user.Username, string(data), time.Now())
		return err
	})
}

// SaveToken stores the access token and, when one was issued alongside, its
// paired refresh token, both snapshotting the client and user.
func (db *DB) SaveToken(token *domain.AccessToken, client *domain.Client, user *domain.User) (*domain.AccessToken, error) {
	stored := *token
	stored.Client = client
	stored.User = user

	accessData, err := json.Marshal(&stored)
	if err != nil {
		return nil, err
	}

	var refreshData []byte
	if stored.RefreshToken != "" {
		refresh := domain.RefreshToken{
			RefreshToken:          stored.RefreshToken,
			RefreshTokenExpiresAt: stored.RefreshTokenExpiresAt,
			Scope:                 stored.Scope,
			Client:                client,
			User:                  user,
		}
		refreshData, err = json.Marshal(&refresh)
		if err != nil {
			return nil, err
		}
	}

	err = db.wrapTransaction(func(tx *sql.Tx) error {
		now := time.Now()
		if _, err := tx.Exec(`INSERT INTO access_tokens(key, token, data, created_at) VALUES (?, ?, ?, ?)`,
			uuid.NewString(), stored.AccessToken, string(accessData), now); err != nil {
			return err
		}
		if refreshData != nil {
			if _, err := tx.Exec(`INSERT INTO refresh_tokens(key, token, data, created_at) VALUES (?, ?, ?, ?)`,
				uuid.NewString(), stored.RefreshToken, string(refreshData), now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetRefreshToken returns the stored refresh token, or nil if unknown.
func (db *DB) GetRefreshToken(refreshToken string) (*domain.RefreshToken, error) {
	row := db.db.QueryRow(`SELECT data FROM refresh_tokens WHERE token = ? LIMIT 1`, refreshToken)
	return scanGrantRow[domain.RefreshToken](row)
}

// GetUserFromClient returns the user a confidential client acts for.
func (db *DB) GetUserFromClient(client *domain.Client) (*domain.User, error) {
	if client.UserId == "" {
		return nil, nil
	}
	row := db.db.QueryRow(`SELECT data FROM users WHERE user_id = ? LIMIT 1`, client.UserId)
	return scanGrantRow[domain.User](row)
}

// GetUser returns the user matching both username and password, or nil.
// Pure equality match; credential hashing is the caller's concern.
func (db *DB) GetUser(username string, password string) (*domain.User, error) {
	row := db.db.QueryRow(`SELECT data FROM users WHERE username = ? LIMIT 1`, username)
	user, err := scanGrantRow[domain.User](row)
	if err != nil || user == nil {
		return nil, err
	}
	if user.Password != password {
		return nil, nil
	}
	return user, nil
}

// VerifyScope reports whether every requested scope is present in the
// token's granted set. Each requested element may itself be space-delimited.
func VerifyScope(token *domain.AccessToken, requested ...string) bool {
	if token == nil || len(token.Scope) == 0 {
		return false
	}
	var scopes domain.ScopeList
	for _, part := range requested {
		scopes = append(scopes, domain.SplitScopes(part)...)
	}
	return token.Scope.Contains(scopes)
}

func scanGrantRow[T any](row *sql.Row) (*T, error) {
	var data string
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var value T
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return nil, err
	}
	return &value, nil
}
