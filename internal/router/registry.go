package router

// registry maps connection ids to open connections. It is owned by Router
// and only touched while holding Router.mu.
type registry struct {
	conns map[string]*clientConn
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*clientConn)}
}

func (g *registry) insert(c *clientConn) {
	g.conns[c.id] = c
}

func (g *registry) lookup(id string) (*clientConn, bool) {
	c, ok := g.conns[id]
	return c, ok
}

func (g *registry) remove(id string) {
	delete(g.conns, id)
}

func (g *registry) len() int {
	return len(g.conns)
}

// each calls fn for every open connection.
func (g *registry) each(fn func(*clientConn)) {
	for _, c := range g.conns {
		fn(c)
	}
}
