package inmemdb

import (
	"sync"

	"github.com/mzalendo/darasa/core/session"
	"github.com/mzalendo/darasa/core/user"
)

type (
	userTable struct {
		mutex sync.RWMutex
		table map[string]*user.User
	}

	sessionTable struct {
		mutex    sync.RWMutex
		table    map[string]*session.Session // by session id
		attempts []session.Attempt
	}

	// DB is the in-memory database used in DEV and tests.
	DB struct {
		user    *userTable
		session *sessionTable
	}
)

func NewDB() *DB {
	return &DB{
		user:    &userTable{table: make(map[string]*user.User)},
		session: &sessionTable{table: make(map[string]*session.Session)},
	}
}
