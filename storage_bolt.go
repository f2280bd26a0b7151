package objstore

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var objectsBucket = []byte("objects")

type boltStorage struct {
	bdb *bbolt.DB
}

func openBoltStorage(path string, opt Options) (*boltStorage, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 64
		bopt.FreelistType = bbolt.FreelistMapType
		bopt.NoSync = opt.NoSync
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("bolt: %w", err)
	}
	err = bdb.Update(func(btx *bbolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists(objectsBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("bolt: %w", err)
	}
	return &boltStorage{bdb: bdb}, nil
}

func (s *boltStorage) Allocate(frame []byte) (Address, error) {
	var addr Address
	err := s.bdb.Update(func(btx *bbolt.Tx) error {
		b := btx.Bucket(objectsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		addr = Address(seq)
		return b.Put(addr.bytes(), frame)
	})
	if err != nil {
		return NilAddress, err
	}
	return addr, nil
}

func (s *boltStorage) Read(addr Address) ([]byte, error) {
	var frame []byte
	err := s.bdb.View(func(btx *bbolt.Tx) error {
		v := btx.Bucket(objectsBucket).Get(addr.bytes())
		if v == nil {
			return ErrUnknownAddress
		}
		// Bolt memory is only valid inside the transaction.
		frame = append([]byte{}, v...)
		return nil
	})
	return frame, err
}

// WriteAll runs in a single Bolt transaction, so a failure rolls back every
// write.
func (s *boltStorage) WriteAll(writes []recordWrite) error {
	return s.bdb.Update(func(btx *bbolt.Tx) error {
		b := btx.Bucket(objectsBucket)
		for _, w := range writes {
			key := w.addr.bytes()
			if b.Get(key) == nil {
				return ErrUnknownAddress
			}
			if err := b.Put(key, w.frame); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *boltStorage) Delete(addr Address) error {
	return s.bdb.Update(func(btx *bbolt.Tx) error {
		b := btx.Bucket(objectsBucket)
		key := addr.bytes()
		if b.Get(key) == nil {
			return ErrUnknownAddress
		}
		return b.Delete(key)
	})
}

func (s *boltStorage) Stats() backendStats {
	var st backendStats
	_ = s.bdb.View(func(btx *bbolt.Tx) error {
		st.Records = btx.Bucket(objectsBucket).Stats().KeyN
		st.FileSize = btx.Size()
		return nil
	})
	return st
}

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}
