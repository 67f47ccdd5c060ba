// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

// Package leveldb provides a cabs.Upserter which keeps staged trips in a local
// leveldb database, keyed by business key. It is handy for running the whole
// pipeline on a laptop without a Postgres server.
package leveldb

import (
	"context"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/windycity/cabs"
)

var _ cabs.Upserter = &Store{}

const tripPrefix = "trip/"

// Store is a cabs.Upserter backed by leveldb.
type Store struct {
	db *leveldb.DB
}

type errorList []error

func (errs errorList) Error() string {
	errstrings := make([]string, len(errs))
	for i, err := range errs {
		errstrings[i] = err.Error()
	}
	return strings.Join(errstrings, "; ")
}

// NewStore opens (creating if needed) the leveldb database in dirname.
func NewStore(dirname string) (*Store, error) {
	db, err := leveldb.OpenFile(dirname, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening leveldb at %v", dirname)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying leveldb instance.
func (s *Store) Close() error {
	return s.db.Close()
}

func tripKey(k cabs.BusinessKey) []byte {
	return []byte(tripPrefix + string(k))
}

// Upsert implements cabs.Upserter. All rows of the batch are written with a
// single synced leveldb batch, which is applied atomically.
func (s *Store) Upsert(ctx context.Context, b cabs.Batch) (cabs.UpsertResult, error) {
	var res cabs.UpsertResult
	batch := new(leveldb.Batch)
	seen := make(map[cabs.BusinessKey]bool, len(b.Trips))
	errs := make(errorList, 0)
	for _, t := range b.Trips {
		key := tripKey(t.BusinessKey)
		exists, err := s.db.Has(key, nil)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "checking %s", t.BusinessKey))
			continue
		}
		if exists || seen[t.BusinessKey] {
			res.Updated++
		} else {
			res.Inserted++
		}
		seen[t.BusinessKey] = true
		val, err := json.Marshal(t)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "encoding %s", t.BusinessKey))
			continue
		}
		batch.Put(key, val)
	}
	if len(errs) > 0 {
		return cabs.UpsertResult{}, &cabs.UpsertBatchError{Batch: b.ID, Rows: len(b.Trips), Err: errs}
	}
	if err := ctx.Err(); err != nil {
		return cabs.UpsertResult{}, &cabs.UpsertBatchError{Batch: b.ID, Rows: len(b.Trips), Err: err}
	}
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return cabs.UpsertResult{}, &cabs.UpsertBatchError{Batch: b.ID, Rows: len(b.Trips), Err: err}
	}
	return res, nil
}

// Get returns the staged trip stored under k, or nil.
func (s *Store) Get(k cabs.BusinessKey) (*cabs.StagedTrip, error) {
	val, err := s.db.Get(tripKey(k), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "getting %s", k)
	}
	var t cabs.StagedTrip
	if err := json.Unmarshal(val, &t); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", k)
	}
	return &t, nil
}

// Scan calls fn for every stored trip in business key order until fn returns
// an error.
func (s *Store) Scan(fn func(cabs.StagedTrip) error) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(tripPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		var t cabs.StagedTrip
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return errors.Wrapf(err, "decoding %s", iter.Key())
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return errors.Wrap(iter.Error(), "iterating")
}
