package main

import (
	"log"
	"os"

	"github.com/jmoiron/sqlx"

	echoapi "github.com/mzalendo/darasa/apps/api/echo"
	"github.com/mzalendo/darasa/core"
	"github.com/mzalendo/darasa/core/session"
	"github.com/mzalendo/darasa/core/user"
	emailsvc "github.com/mzalendo/darasa/services/email"
	logsvc "github.com/mzalendo/darasa/services/logger"
	"github.com/mzalendo/darasa/storage/database"
	inmemdb "github.com/mzalendo/darasa/storage/database/inmem"
	sqlxrepos "github.com/mzalendo/darasa/storage/database/sqlx"
)

func main() {
	std := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(std, core.Conf)
	logger.Enable(!core.Conf.Debug)

	// set up repositories
	var (
		usrRepo  user.Repository
		sessRepo session.Repository
	)
	switch core.Conf.Database.Engine {
	case "postgres":
		errAndDie(database.CreateIfNotExist(core.Conf))
		db, err := database.Open(core.Conf)
		errAndDie(err)
		defer db.Close()
		errAndDie(db.Ping())
		errAndDie(database.Migrate(db))

		dbx := sqlx.NewDb(db, "postgres")
		usrRepo = sqlxrepos.NewUserRepository(dbx)
		sessRepo = sqlxrepos.NewSessionRepository(dbx)
	default: // inmem
		db := inmemdb.NewDB()
		usrRepo = inmemdb.NewUserRepository(db)
		sessRepo = inmemdb.NewSessionRepository(db)
	}

	// set up services
	var mailSvc core.EmailService
	if core.Conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}
	usrSvc := user.NewService(usrRepo, mailSvc, logger)
	sessStore := session.NewStore(sessRepo, core.Conf.Store)

	// start API server
	app := echoapi.NewServer(
		&echoapi.Options{
			Addr:         core.Conf.Server.Addr,
			UserSvc:      usrSvc,
			SessionStore: sessStore,
			Logger:       logger,
		},
	)
	app.Start()
}

func errAndDie(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
