// Package sqlgraph holds the graph and error helpers the unit of work
// builds on: a stable dependency sort used to order inserts and deletes,
// and the classification of backend errors into constraint violations and
// lost connections.
package sqlgraph
