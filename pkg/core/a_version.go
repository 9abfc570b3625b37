package core

import (
	"strconv"

	"github.com/google/uuid"
)

// CommitVersion orders committed transactions. 0 means "before any data".
type CommitVersion uint64

const (
	// ZeroVersion is reserved and never assigned to a commit.
	ZeroVersion CommitVersion = 0
	// InitialVersion is the state of a freshly created database.
	InitialVersion CommitVersion = 1
	// MaxVersion reads everything that has been committed.
	MaxVersion CommitVersion = ^CommitVersion(0)
)

func (v CommitVersion) String() string {
	return strconv.FormatUint(uint64(v), 10)
}

// TransactionId identifies a transaction independent of the version it may commit at.
type TransactionId uuid.UUID

func NewTransactionId() TransactionId {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does.
		return TransactionId(uuid.New())
	}
	return TransactionId(id)
}

func (id TransactionId) String() string {
	return uuid.UUID(id).String()
}
