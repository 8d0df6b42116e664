package mocks

//go:generate mockery --name Store --srcpkg github.com/aevon-lab/aevon-profiler/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
//go:generate mockery --name Processor --srcpkg github.com/aevon-lab/aevon-profiler/internal/ingestion --output ./ingestion --outpkg ingestionmocks --with-expecter
