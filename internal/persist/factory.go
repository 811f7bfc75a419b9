package persist

import "fmt"

// ManagerFactory builds Query and Transaction managers bound to one DataSource.
//
// Managers created by one factory share the DataSource, logger and observer
// but never share state: every Transaction and Query has its own.
//
// Configure the factory with the Set* methods before creating managers;
// managers copy the settings at creation time.
type ManagerFactory struct {
	ds        DataSource
	logger    Logger
	observer  Observer
	cacheSize int
}

// NewManagerFactory creates a factory over ds.
//
// Returns:
//   - *ManagerFactory: factory ready to create managers
//   - error: ErrNullValue if ds is nil
func NewManagerFactory(ds DataSource) (*ManagerFactory, error) {
	if ds == nil {
		return nil, fmt.Errorf("%w: data source is nil", ErrNullValue)
	}
	return &ManagerFactory{
		ds:     ds,
		logger: nopLogger{},
	}, nil
}

// SetLogger sets the logger handed to new managers.
func (f *ManagerFactory) SetLogger(logger Logger) {
	if logger == nil {
		logger = nopLogger{}
	}
	f.logger = logger
}

// SetObserver sets the observer handed to new managers.
func (f *ManagerFactory) SetObserver(obs Observer) {
	f.observer = obs
}

// SetStatementCacheSize sets the per-transaction prepared statement cache size
// for new Transactions. Zero disables caching.
func (f *ManagerFactory) SetStatementCacheSize(n int) {
	f.cacheSize = n
}

// DataSource returns the bound data source.
func (f *ManagerFactory) DataSource() DataSource {
	return f.ds
}

// CreateQueryManager returns a new QueryManager over the factory's DataSource.
func (f *ManagerFactory) CreateQueryManager() *QueryManager {
	return &QueryManager{
		ds:       f.ds,
		observer: f.observer,
	}
}

// CreateTransactionManager returns a new idle Transaction over the factory's DataSource.
func (f *ManagerFactory) CreateTransactionManager() *Transaction {
	return &Transaction{
		ds:        f.ds,
		logger:    f.logger,
		observer:  f.observer,
		cacheSize: f.cacheSize,
		state:     stateIdle,
	}
}

// CreateCallableManager is reserved for stored procedure support, which is
// not implemented.
//
// Returns:
//   - error: always ErrUnsupported
func (f *ManagerFactory) CreateCallableManager() error {
	return fmt.Errorf("%w: stored procedures", ErrUnsupported)
}

// QueryManager creates Queries bound to one DataSource.
type QueryManager struct {
	ds       DataSource
	observer Observer
}

// CreateQuery creates a raw-mode Query: SingleResult returns the first column
// of the single row and ResultList is unsupported.
//
// Returns:
//   - *Query[any]: query ready to Execute
//   - error: ErrNullValue if statement is nil
func (m *QueryManager) CreateQuery(statement *Statement) (*Query[any], error) {
	return newManagedQuery[any](m, statement, nil)
}

// CreateEntityQuery creates a Query that materialises rows with decoder.
//
// It is a function rather than a method because Go methods cannot declare
// type parameters.
//
// Returns:
//   - *Query[T]: query ready to Execute
//   - error: ErrNullValue if statement or decoder is nil
func CreateEntityQuery[T any](m *QueryManager, statement *Statement, decoder Decoder[T]) (*Query[T], error) {
	if decoder == nil {
		return nil, fmt.Errorf("%w: entity decoder is nil", ErrNullValue)
	}
	return newManagedQuery(m, statement, decoder)
}

// CreateScalarQuery creates a raw-mode Query whose single result is asserted
// to T, for statements such as SELECT COUNT(*).
func CreateScalarQuery[T any](m *QueryManager, statement *Statement) (*Query[T], error) {
	return newManagedQuery[T](m, statement, nil)
}

func newManagedQuery[T any](m *QueryManager, statement *Statement, decoder Decoder[T]) (*Query[T], error) {
	q, err := NewQuery(m.ds, statement, decoder)
	if err != nil {
		return nil, err
	}
	q.SetObserver(m.observer)
	return q, nil
}
