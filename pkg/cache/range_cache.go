// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"container/list"
	"fmt"
	"sync"
)

// RangeCache is a byte-capacity LRU of object windows keyed by object key
// and window start offset.
type RangeCache struct {
	mu       sync.Mutex
	capacity int
	size     int
	hits     int64
	misses   int64
	ll       *list.List
	items    map[string]*list.Element
}

type cacheEntry struct {
	key  string
	data []byte
}

// NewRangeCache creates a cache with capacity in bytes.
func NewRangeCache(capacityBytes int) *RangeCache {
	if capacityBytes <= 0 {
		capacityBytes = 1
	}
	return &RangeCache{
		capacity: capacityBytes,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func makeKey(object string, offset int64) string {
	return fmt.Sprintf("%s@%d", object, offset)
}

// GetRange returns the cached window starting at offset, if present.
func (c *RangeCache) GetRange(object string, offset int64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[makeKey(object, offset)]; ok {
		c.ll.MoveToFront(elem)
		c.hits++
		return elem.Value.(*cacheEntry).data, true
	}
	c.misses++
	return nil, false
}

// SetRange adds or replaces the window starting at offset. Windows larger
// than the capacity are not cached.
func (c *RangeCache) SetRange(object string, offset int64, data []byte) {
	if len(data) > c.capacity {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := makeKey(object, offset)
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		c.size -= len(entry.data)
		entry.data = append([]byte(nil), data...)
		c.size += len(entry.data)
		c.ll.MoveToFront(elem)
		c.evictIfNeeded()
		return
	}
	entry := &cacheEntry{key: key, data: append([]byte(nil), data...)}
	c.items[key] = c.ll.PushFront(entry)
	c.size += len(entry.data)
	c.evictIfNeeded()
}

// Size returns the cached byte count.
func (c *RangeCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stats returns hit and miss counters.
func (c *RangeCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *RangeCache) evictIfNeeded() {
	for c.size > c.capacity && c.ll.Len() > 0 {
		elem := c.ll.Back()
		entry := elem.Value.(*cacheEntry)
		delete(c.items, entry.key)
		c.ll.Remove(elem)
		c.size -= len(entry.data)
	}
}
