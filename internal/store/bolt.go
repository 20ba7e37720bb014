package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketLights = []byte("lights")

// BoltCatalog implements Catalog using BoltDB, one JSON document per name.
type BoltCatalog struct {
	db *bolt.DB
}

// NewBoltCatalog opens or creates a BoltDB database.
func NewBoltCatalog(path string) (*BoltCatalog, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLights)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltCatalog{db: db}, nil
}

// pinOwner returns the name holding pin, skipping the entry named except.
func pinOwner(b *bolt.Bucket, pin int, except string) (string, error) {
	var owner string
	err := b.ForEach(func(k, v []byte) error {
		if owner != "" || string(k) == except {
			return nil
		}
		var l Light
		if err := json.Unmarshal(v, &l); err != nil {
			return err
		}
		if l.Pin == pin {
			owner = l.Name
		}
		return nil
	})
	return owner, err
}

func (s *BoltCatalog) Insert(l *Light) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLights)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketLights)
		}
		if b.Get([]byte(l.Name)) != nil {
			return fmt.Errorf("light %s: %w", l.Name, ErrNameExists)
		}
		owner, err := pinOwner(b, l.Pin, "")
		if err != nil {
			return err
		}
		if owner != "" {
			return fmt.Errorf("pin %d held by %s: %w", l.Pin, owner, ErrPinInUse)
		}
		data, err := json.Marshal(l)
		if err != nil {
			return err
		}
		return b.Put([]byte(l.Name), data)
	})
}

func (s *BoltCatalog) Get(name string) (*Light, error) {
	var l Light
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLights)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketLights)
		}
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("light %s: %w", name, ErrNotFound)
		}
		return json.Unmarshal(data, &l)
	})
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *BoltCatalog) Update(name string, fn func(l *Light) error) (*Light, error) {
	var l Light
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLights)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketLights)
		}
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("light %s: %w", name, ErrNotFound)
		}
		if err := json.Unmarshal(data, &l); err != nil {
			return err
		}
		prevPin := l.Pin
		if err := fn(&l); err != nil {
			return err
		}
		l.Name = name
		if l.Pin != prevPin {
			owner, err := pinOwner(b, l.Pin, name)
			if err != nil {
				return err
			}
			if owner != "" {
				return fmt.Errorf("pin %d held by %s: %w", l.Pin, owner, ErrPinInUse)
			}
		}
		data, err := json.Marshal(&l)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *BoltCatalog) Delete(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLights)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketLights)
		}
		if b.Get([]byte(name)) == nil {
			return fmt.Errorf("light %s: %w", name, ErrNotFound)
		}
		return b.Delete([]byte(name))
	})
}

func (s *BoltCatalog) List() ([]*Light, error) {
	var lights []*Light
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLights)
		if b == nil {
			return nil // no bucket = no lights
		}
		lights = make([]*Light, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var l Light
			if err := json.Unmarshal(v, &l); err != nil {
				return err
			}
			lights = append(lights, &l)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortLights(lights)
	return lights, nil
}

func (s *BoltCatalog) Close() error {
	return s.db.Close()
}
