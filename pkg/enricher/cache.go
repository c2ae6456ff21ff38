package enricher

import (
	"ISS_Harvester/internal/models"
	"sync"
)

// Cache 是单次运行内的查询缓存。详情页结果和相机元数据文件路径分别记录，
// 只缓存成功的查询；相机文件路径为空字符串表示页面上没有相机元数据。
type Cache struct {
	mu    sync.RWMutex
	pages map[models.Identity]PageDetails
	files map[models.Identity]string
}

func NewCache() *Cache {
	return &Cache{
		pages: make(map[models.Identity]PageDetails),
		files: make(map[models.Identity]string),
	}
}

func (c *Cache) Page(id models.Identity) (PageDetails, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.pages[id]
	return d, ok
}

func (c *Cache) SetPage(id models.Identity, d PageDetails) {
	c.mu.Lock()
	c.pages[id] = d
	c.mu.Unlock()
}

func (c *Cache) File(id models.Identity) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.files[id]
	return p, ok
}

func (c *Cache) SetFile(id models.Identity, path string) {
	c.mu.Lock()
	c.files[id] = path
	c.mu.Unlock()
}

// Len 返回 (详情页条目数, 相机文件条目数)。
func (c *Cache) Len() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pages), len(c.files)
}
