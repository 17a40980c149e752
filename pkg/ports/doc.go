/*
Package ports defines the driven and driving ports (interfaces) of the journey engine.

These interfaces decouple the core logic from external implementations, allowing
the engine to work with various storage backends, graph sources and update streams.

# Key Interfaces

  - GraphLoader: loads workflow graphs (Loam documents, YAML files, memory).
  - StateStore: persists and loads per-session ExecutionState.
  - InterventionStore: persists intervention requests and enforces one pending request per node.
  - DistributedLocker: distributed locking for concurrent session access across replicas.
  - UpdatePublisher / UpdateSubscriber: the outbound update stream.
  - SessionEngine: the surface consumed by HTTP, MCP and CLI adapters.
*/
package ports
