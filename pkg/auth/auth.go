package auth

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/vorteil/simfs/pkg/disk"
	"github.com/vorteil/simfs/pkg/elog"
	"github.com/vorteil/simfs/pkg/fserr"
)

// FirstUserUID is the lowest uid handed out to created users.
const FirstUserUID = 1000

// User is one row of the in-memory user table. Passwords are stored only as
// bcrypt hashes.
type User struct {
	UID          int
	Username     string
	PasswordHash []byte
	GroupID      int
	Admin        bool
	HomeInode    int // -1 when unset; login falls back to the root directory
}

// Authenticator owns the user table and the single active session. The core
// is single-session: a second login is refused until the first logs out.
type Authenticator struct {
	log     elog.Logger
	users   map[string]*User
	session *Session
}

// Session binds the logged-in user to a working directory and a table of
// open file descriptors. It is discarded wholesale on logout.
type Session struct {
	user  *User
	cwd   int
	files map[int]*disk.OpenFileEntry
}

func mustHash(password string) []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return hash
}

// NewAuthenticator returns a table seeded with the two default accounts: a
// uid-0 admin ("root") and a uid-1000 guest.
func NewAuthenticator(log elog.Logger) *Authenticator {

	a := &Authenticator{
		log:   log,
		users: make(map[string]*User),
	}

	a.users["root"] = &User{
		UID:          disk.RootUID,
		Username:     "root",
		PasswordHash: mustHash("root"),
		Admin:        true,
		HomeInode:    -1,
	}
	a.users["guest"] = &User{
		UID:          FirstUserUID,
		Username:     "guest",
		PasswordHash: mustHash("guest"),
		HomeInode:    -1,
	}

	return a
}

// Login verifies credentials and opens a session. The working directory
// starts at the user's home inode when one is set, otherwise at rootID.
func (a *Authenticator) Login(username, password string, rootID int) (*Session, error) {

	if a.session != nil {
		return nil, fserr.Errorf(fserr.AlreadyExists,
			"user '%s' is already logged in", a.session.user.Username)
	}

	user, ok := a.users[username]
	if !ok {
		return nil, fserr.Errorf(fserr.NotFound, "user '%s' not found", username)
	}

	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		return nil, fserr.Errorf(fserr.PermissionDenied, "incorrect password for user '%s'", username)
	}

	cwd := rootID
	if user.HomeInode >= 0 {
		cwd = user.HomeInode
	}

	a.session = &Session{
		user:  user,
		cwd:   cwd,
		files: make(map[int]*disk.OpenFileEntry),
	}

	a.log.Debugf("user '%s' logged in, cwd inode %d", username, cwd)
	return a.session, nil
}

// Logout discards the active session. Open descriptors are dropped with a
// warning; nothing needs flushing because writes are immediate.
func (a *Authenticator) Logout() error {

	if a.session == nil {
		return fserr.New(fserr.NotFound, "no user is logged in")
	}

	if n := len(a.session.files); n > 0 {
		a.log.Warnf("user '%s' logged out with %d open file(s); forcing close",
			a.session.user.Username, n)
	}

	a.session = nil
	return nil
}

// Session returns the active session, or nil when nobody is logged in.
func (a *Authenticator) Session() *Session {
	return a.session
}

// User looks a user up by name.
func (a *Authenticator) User(username string) *User {
	return a.users[username]
}

// CreateUser adds a user with the lowest unused uid at or above
// FirstUserUID.
func (a *Authenticator) CreateUser(username, password string, gid int, admin bool) (*User, error) {

	if username == "" {
		return nil, fserr.New(fserr.InvalidArgument, "username cannot be empty")
	}
	if _, exists := a.users[username]; exists {
		return nil, fserr.Errorf(fserr.AlreadyExists, "user '%s' already exists", username)
	}

	taken := make(map[int]bool)
	for _, u := range a.users {
		taken[u.UID] = true
	}
	uid := FirstUserUID
	for taken[uid] || uid == disk.RootUID {
		uid++
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fserr.Wrap(fserr.Internal, err, "could not hash password")
	}

	user := &User{
		UID:          uid,
		Username:     username,
		PasswordHash: hash,
		GroupID:      gid,
		Admin:        admin,
		HomeInode:    -1,
	}
	a.users[username] = user

	a.log.Debugf("user '%s' created with uid %d", username, uid)
	return user, nil
}

// User returns the session's owner.
func (s *Session) User() *User {
	return s.user
}

// UID returns the session's uid.
func (s *Session) UID() int {
	return s.user.UID
}

// GID returns the session's group id.
func (s *Session) GID() int {
	return s.user.GroupID
}

// CWD returns the current working directory inode id.
func (s *Session) CWD() int {
	return s.cwd
}

// SetCWD moves the working directory.
func (s *Session) SetCWD(inodeID int) {
	s.cwd = inodeID
}

// AllocateFD registers an open-file entry under the minimum free descriptor.
func (s *Session) AllocateFD(entry *disk.OpenFileEntry) int {
	fd := 0
	for {
		if _, used := s.files[fd]; !used {
			break
		}
		fd++
	}
	s.files[fd] = entry
	return fd
}

// File returns the open-file entry for fd, or nil.
func (s *Session) File(fd int) *disk.OpenFileEntry {
	return s.files[fd]
}

// ReleaseFD closes a descriptor.
func (s *Session) ReleaseFD(fd int) bool {
	if _, used := s.files[fd]; !used {
		return false
	}
	delete(s.files, fd)
	return true
}

// FDs returns the descriptors currently open, unordered.
func (s *Session) FDs() []int {
	fds := make([]int, 0, len(s.files))
	for fd := range s.files {
		fds = append(fds, fd)
	}
	return fds
}
