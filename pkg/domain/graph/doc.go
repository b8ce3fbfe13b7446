// Package graph provides a small directed graph and the algorithms the
// orchestrator needs over it: reachability between two vertices and a
// deterministic topological ordering of the region spanned from a root.
package graph
