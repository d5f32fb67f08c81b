package main

import (
	"time"

	"github.com/mzalendo/darasa/core"
	"github.com/mzalendo/darasa/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(uname, email, pwd string, isAdmin bool) error {
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	usr, err := cli.usrRepo.GetUserByUsernameOrEmail(uname)
	if err != nil {
		if err != user.ErrNotFound {
			return err
		}
		if usr, err = cli.usrRepo.GetUserByUsernameOrEmail(email); err != nil && err != user.ErrNotFound {
			return err
		}
	}

	isNew := usr.ID == ""
	now := time.Now().UTC()
	if isNew {
		usr = user.User{
			ID:        core.NewID(),
			Username:  uname,
			Email:     email,
			CreatedAt: now,
		}
	}
	if isAdmin {
		usr.Roles = []string{user.RoleAdminOwner}
	} else if len(usr.Roles) == 0 {
		usr.Roles = []string{user.RoleStudent}
	}
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.IsActive = true
	usr.UpdatedAt = now

	if isNew {
		_, err = cli.usrRepo.CreateUser(usr)
		return err
	}
	isActive := true
	_, err = cli.usrRepo.UpdateUser(usr, &isActive)
	return err
}
