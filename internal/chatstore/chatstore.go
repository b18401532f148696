package chatstore

import (
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pingme/pingme-server/internal/boot"
	"github.com/pingme/pingme-server/internal/model"
)

// Store is the durable side of the system: users, threads, membership,
// messages and the delivered/read receipt sets. The receipt sets are
// monotonic; rows are only ever inserted.
type Store struct {
	db *sqlx.DB
}

func New(config *boot.Config) (*Store, error) {
	dbName := path.Join(config.DataDirectory, "pingme.db")

	db, err := sqlx.Connect("sqlite3", "file:"+dbName+"?_fk=true")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store := &Store{db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	_, err := s.db.Exec(`create table if not exists users(
		ID        text not null primary key,
		CreatedAt DATETIME not null,
		UpdatedAt DATETIME null,
		Handle    text not null unique,
		Password  text not null,
		Bio       text not null default '',
		Avatar    text not null default '',
		IsOnline  boolean not null default 0,
		LastSeen  DATETIME null
	)`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = s.db.Exec(`create table if not exists threads(
		ID        text not null primary key,
		CreatedAt DATETIME not null,
		Name      text not null default ''
	)`)
	if err != nil {
		return fmt.Errorf("creating threads table: %w", err)
	}

	_, err = s.db.Exec(`create table if not exists thread_members(
		ThreadID text not null references threads(ID),
		UserID   text not null references users(ID),
		primary key(ThreadID, UserID)
	)`)
	if err != nil {
		return fmt.Errorf("creating thread_members table: %w", err)
	}

	_, err = s.db.Exec(`create table if not exists messages(
		ID         text not null primary key,
		ThreadID   text not null references threads(ID),
		SenderID   text not null references users(ID),
		Text       text not null default '',
		Attachment text not null default '',
		CreatedAt  DATETIME not null
	)`)
	if err != nil {
		return fmt.Errorf("creating messages table: %w", err)
	}

	_, err = s.db.Exec(`create table if not exists message_delivered(
		MessageID text not null references messages(ID),
		UserID    text not null references users(ID),
		primary key(MessageID, UserID)
	)`)
	if err != nil {
		return fmt.Errorf("creating message_delivered table: %w", err)
	}

	_, err = s.db.Exec(`create table if not exists message_read(
		MessageID text not null references messages(ID),
		UserID    text not null references users(ID),
		primary key(MessageID, UserID)
	)`)
	if err != nil {
		return fmt.Errorf("creating message_read table: %w", err)
	}

	return nil
}

func (s *Store) CreateUser(handle, hashedPassword string) (*model.User, error) {
	user := &model.User{
		ID:        model.UserID(model.CreateID()),
		CreatedAt: time.Now().UTC(),
		Handle:    handle,
		Password:  hashedPassword,
	}

	_, err := s.db.NamedExec(`insert into users
		(ID, CreatedAt, Handle, Password, Bio, Avatar)
		values(:ID, :CreatedAt, :Handle, :Password, :Bio, :Avatar)`, user)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, model.ErrorHandleTaken
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}

	return user, nil
}

func (s *Store) GetUser(id model.UserID) (*model.User, error) {
	user := &model.User{}
	err := s.db.Get(user, `select * from users where ID = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorUserNotFound
		}
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	return user, nil
}

func (s *Store) GetUserByHandle(handle string) (*model.User, error) {
	user := &model.User{}
	err := s.db.Get(user, `select * from users where Handle = ?`, handle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorUserNotFound
		}
		return nil, fmt.Errorf("fetching user by handle: %w", err)
	}
	return user, nil
}

func (s *Store) UpdateProfile(id model.UserID, params *model.UpdateProfileParams) error {
	user, err := s.GetUser(id)
	if err != nil {
		return err
	}

	if params.Handle != nil {
		user.Handle = *params.Handle
	}
	if params.Bio != nil {
		user.Bio = *params.Bio
	}
	if params.Avatar != nil {
		user.Avatar = *params.Avatar
	}
	now := time.Now().UTC()
	user.UpdatedAt = &now

	_, err = s.db.NamedExec(`update users set
		UpdatedAt = :UpdatedAt, Handle = :Handle, Bio = :Bio, Avatar = :Avatar
		where ID = :ID`, user)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return model.ErrorHandleTaken
		}
		return fmt.Errorf("updating profile: %w", err)
	}
	return nil
}

// SetUserPresence writes the durable half of presence: the online flag
// and last-seen instant on the user row.
func (s *Store) SetUserPresence(id model.UserID, online bool, lastSeen time.Time) error {
	_, err := s.db.Exec(`update users set IsOnline = ?, LastSeen = ? where ID = ?`,
		online, lastSeen.UTC(), id)
	if err != nil {
		return fmt.Errorf("updating presence: %w", err)
	}
	return nil
}

func (s *Store) CreateThread(name string, memberIDs ...model.UserID) (*model.Thread, error) {
	thread := &model.Thread{
		ID:        model.ThreadID(model.CreateID()),
		CreatedAt: time.Now().UTC(),
		Name:      name,
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExec(`insert into threads(ID, CreatedAt, Name)
		values(:ID, :CreatedAt, :Name)`, thread)
	if err != nil {
		return nil, fmt.Errorf("inserting thread: %w", err)
	}

	for _, memberID := range memberIDs {
		_, err = tx.Exec(`insert into thread_members(ThreadID, UserID) values(?, ?)`,
			thread.ID, memberID)
		if err != nil {
			return nil, fmt.Errorf("inserting thread member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing thread: %w", err)
	}
	return thread, nil
}

func (s *Store) GetThread(id model.ThreadID) (*model.Thread, error) {
	thread := &model.Thread{}
	err := s.db.Get(thread, `select * from threads where ID = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorThreadNotFound
		}
		return nil, fmt.Errorf("fetching thread: %w", err)
	}
	return thread, nil
}

// ThreadBetween finds an existing thread whose membership is exactly
// the given pair. Used by the 1:1 get-or-create endpoint.
func (s *Store) ThreadBetween(a, b model.UserID) (*model.Thread, error) {
	thread := &model.Thread{}
	err := s.db.Get(thread, `select t.* from threads t
		where exists(select 1 from thread_members where ThreadID = t.ID and UserID = ?)
		  and exists(select 1 from thread_members where ThreadID = t.ID and UserID = ?)
		limit 1`, a, b)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorThreadNotFound
		}
		return nil, fmt.Errorf("fetching thread for pair: %w", err)
	}
	return thread, nil
}

func (s *Store) ThreadsFor(userID model.UserID) ([]model.Thread, error) {
	threads := []model.Thread{}
	err := s.db.Select(&threads, `select t.* from threads t
		join thread_members m on m.ThreadID = t.ID
		where m.UserID = ?
		order by t.CreatedAt`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	return threads, nil
}

func (s *Store) IsMember(userID model.UserID, threadID model.ThreadID) (bool, error) {
	var count int
	err := s.db.Get(&count, `select count(*) from thread_members
		where ThreadID = ? and UserID = ?`, threadID, userID)
	if err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return count > 0, nil
}

func (s *Store) MembersOf(threadID model.ThreadID) ([]model.User, error) {
	members := []model.User{}
	err := s.db.Select(&members, `select u.* from users u
		join thread_members m on m.UserID = u.ID
		where m.ThreadID = ?
		order by u.Handle`, threadID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	return members, nil
}

func (s *Store) CreateMessage(senderID model.UserID, threadID model.ThreadID, text, attachment string) (*model.Message, error) {
	if _, err := s.GetThread(threadID); err != nil {
		return nil, err
	}
	isMember, err := s.IsMember(senderID, threadID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, model.ErrorNotThreadMember
	}

	message := &model.Message{
		ID:         model.MessageID(model.CreateID()),
		ThreadID:   threadID,
		SenderID:   senderID,
		Text:       text,
		Attachment: attachment,
		CreatedAt:  time.Now().UTC(),
	}

	_, err = s.db.NamedExec(`insert into messages
		(ID, ThreadID, SenderID, Text, Attachment, CreatedAt)
		values(:ID, :ThreadID, :SenderID, :Text, :Attachment, :CreatedAt)`, message)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	return message, nil
}

func (s *Store) GetMessage(id model.MessageID) (*model.Message, error) {
	message := &model.Message{}
	err := s.db.Get(message, `select * from messages where ID = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorMessageNotFound
		}
		return nil, fmt.Errorf("fetching message: %w", err)
	}
	return message, nil
}

func (s *Store) MessagesFor(threadID model.ThreadID) ([]model.Message, error) {
	messages := []model.Message{}
	err := s.db.Select(&messages, `select * from messages
		where ThreadID = ? order by CreatedAt, ID`, threadID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	return messages, nil
}

func (s *Store) LastMessage(threadID model.ThreadID) (*model.Message, error) {
	message := &model.Message{}
	err := s.db.Get(message, `select * from messages
		where ThreadID = ? order by CreatedAt desc, ID desc limit 1`, threadID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorMessageNotFound
		}
		return nil, fmt.Errorf("fetching last message: %w", err)
	}
	return message, nil
}

// AddDeliveredTo inserts userID into the message's delivered-to set.
// Returns whether this call changed state; duplicate marks are no-ops.
func (s *Store) AddDeliveredTo(messageID model.MessageID, userID model.UserID) (bool, error) {
	return s.addToSet("message_delivered", messageID, userID)
}

// AddReadBy inserts userID into the message's read-by set. Returns
// whether this call changed state; duplicate marks are no-ops.
func (s *Store) AddReadBy(messageID model.MessageID, userID model.UserID) (bool, error) {
	return s.addToSet("message_read", messageID, userID)
}

func (s *Store) addToSet(table string, messageID model.MessageID, userID model.UserID) (bool, error) {
	if _, err := s.GetMessage(messageID); err != nil {
		return false, err
	}

	res, err := s.db.Exec(`insert or ignore into `+table+`(MessageID, UserID) values(?, ?)`,
		messageID, userID)
	if err != nil {
		return false, fmt.Errorf("inserting into %s: %w", table, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *Store) CountDeliveredTo(messageID model.MessageID) (int, error) {
	return s.countSet("message_delivered", messageID)
}

func (s *Store) CountReadBy(messageID model.MessageID) (int, error) {
	return s.countSet("message_read", messageID)
}

func (s *Store) countSet(table string, messageID model.MessageID) (int, error) {
	var count int
	err := s.db.Get(&count, `select count(*) from `+table+` where MessageID = ?`, messageID)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return count, nil
}

// MarkThreadDelivered marks every message in the thread not sent by
// userID as delivered to userID, in one idempotent batch. Runs when a
// connection joins a thread's group.
func (s *Store) MarkThreadDelivered(threadID model.ThreadID, userID model.UserID) error {
	_, err := s.db.Exec(`insert or ignore into message_delivered(MessageID, UserID)
		select ID, ? from messages where ThreadID = ? and SenderID != ?`,
		userID, threadID, userID)
	if err != nil {
		return fmt.Errorf("marking thread delivered: %w", err)
	}
	return nil
}

// MarkThreadRead marks every message in the thread not sent by userID
// as read by userID, in one idempotent batch. A read mark implies
// delivery, so both sets are updated together.
func (s *Store) MarkThreadRead(threadID model.ThreadID, userID model.UserID) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"message_delivered", "message_read"} {
		_, err = tx.Exec(`insert or ignore into `+table+`(MessageID, UserID)
			select ID, ? from messages where ThreadID = ? and SenderID != ?`,
			userID, threadID, userID)
		if err != nil {
			return fmt.Errorf("marking thread read in %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing read marks: %w", err)
	}
	return nil
}

// UnreadCount counts the thread's messages not yet read by userID,
// excluding the user's own messages.
func (s *Store) UnreadCount(threadID model.ThreadID, userID model.UserID) (int, error) {
	var count int
	err := s.db.Get(&count, `select count(*) from messages m
		where m.ThreadID = ? and m.SenderID != ?
		  and not exists(select 1 from message_read r where r.MessageID = m.ID and r.UserID = ?)`,
		threadID, userID, userID)
	if err != nil {
		return 0, fmt.Errorf("counting unread: %w", err)
	}
	return count, nil
}
