package proxy

import (
	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"
)

// DispatchGraph maps every method of gc to what it calls: the constructor
// to Object.<init>, each forwarder to the Method handle constructor and to
// InvocationHandler.invoke.
func DispatchGraph(gc *GeneratedClass) *lattice.Graph {
	g := &lattice.Graph{}
	invoke := handlerClass + ".invoke"
	for _, m := range gc.Methods {
		node := gc.Name + "." + m.Name + m.Descriptor
		g.Nodes = append(g.Nodes, node)
		if m.Slot == 0 {
			g.Edges = append(g.Edges, lattice.Edge{Caller: node, Callee: objectClass + ".<init>"})
			continue
		}
		g.Edges = append(g.Edges,
			lattice.Edge{Caller: node, Callee: methodClass + ".<init>"},
			lattice.Edge{Caller: node, Callee: invoke},
		)
	}
	g.Nodes = append(g.Nodes, objectClass+".<init>", methodClass+".<init>", invoke)
	g.Dedup()
	return g
}

// DOT renders the dispatch graph of gc.
func DOT(gc *GeneratedClass) string {
	return render.DOT(DispatchGraph(gc), gc.Name)
}
